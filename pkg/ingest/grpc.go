package ingest

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"github.com/gagliardetto/solana-go"

	"github.com/bonsol-network/prover-node/pkg/protocol"
)

const subscribeBlocksMethod = "/bonsol.ingest.Streaming/SubscribeBlocks"

// rawCodec passes frames through as opaque bytes instead of protobuf
// marshalling. The streaming ingester's wire format is the node
// operator's choice of geyser-compatible plugin; rather than vendor
// that plugin's generated protobuf code, the client negotiates the
// gRPC connection (auth, flow control, retries) normally and decodes
// each frame with the length-prefixed instruction framing described on
// decodeFrame.
type rawCodec struct{}

func (rawCodec) Name() string { return "raw" }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	return nil, fmt.Errorf("rawCodec: cannot marshal %T", v)
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	p, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("rawCodec: cannot unmarshal into %T", v)
	}
	*p = append((*p)[:0], data...)
	return nil
}

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// StreamingSubscription ingests from a gRPC streaming endpoint (for
// example a geyser-plugin relay) instead of the websocket block
// subscription.
// spec.md section 4.1: "Two interchangeable variants: block-subscription
// and streaming-subscription."
type StreamingSubscription struct {
	addr           string
	token          string
	connectTimeout time.Duration
	recvTimeout    time.Duration
	logger         cmtlog.Logger

	cancel context.CancelFunc
}

func NewStreamingSubscription(addr, token string, connectTimeout, recvTimeout time.Duration, logger cmtlog.Logger) *StreamingSubscription {
	return &StreamingSubscription{
		addr:           addr,
		token:          token,
		connectTimeout: connectTimeout,
		recvTimeout:    recvTimeout,
		logger:         logger,
	}
}

func (s *StreamingSubscription) Start(ctx context.Context, program solana.PublicKey) (<-chan protocol.ProtocolInstruction, error) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	out := make(chan protocol.ProtocolInstruction, 256)
	go s.run(ctx, program, out)
	return out, nil
}

func (s *StreamingSubscription) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *StreamingSubscription) run(ctx context.Context, program solana.PublicKey, out chan<- protocol.ProtocolInstruction) {
	defer close(out)

	retries := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.streamOnce(ctx, program, out); err != nil {
			if ctx.Err() != nil {
				return
			}
			if retries >= maxRetries {
				s.logger.Error("streaming subscription exhausted retries, giving up", "err", err)
				return
			}
			backoff := capBackoff(initialBackoff, retries)
			s.logger.Error("streaming subscription failed, reconnecting", "err", err, "backoff", backoff, "attempt", retries+1)
			retries++
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		retries = 0
	}
}

func (s *StreamingSubscription) streamOnce(ctx context.Context, program solana.PublicKey, out chan<- protocol.ProtocolInstruction) error {
	dialCtx, dialCancel := context.WithTimeout(ctx, s.connectTimeout)
	defer dialCancel()

	var creds credentials.TransportCredentials = insecure.NewCredentials()
	conn, err := grpc.DialContext(dialCtx, s.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rawCodec{}.Name())),
		grpc.WithBlock(),
	)
	if err != nil {
		return fmt.Errorf("dial streaming ingester: %w", err)
	}
	defer conn.Close()

	md := metadata.New(map[string]string{
		"authorization": "Bearer " + s.token,
		"program":       program.String(),
	})
	streamCtx := metadata.NewOutgoingContext(ctx, md)

	stream, err := conn.NewStream(streamCtx, &grpc.StreamDesc{ServerStreams: true}, subscribeBlocksMethod)
	if err != nil {
		return fmt.Errorf("open subscribe stream: %w", err)
	}

	var subscribe []byte = program.Bytes()
	if err := stream.SendMsg(subscribe); err != nil {
		return fmt.Errorf("send subscribe request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close subscribe send side: %w", err)
	}

	for {
		var frame []byte
		if err := stream.RecvMsg(&frame); err != nil {
			if err == io.EOF {
				return fmt.Errorf("streaming ingester closed the stream")
			}
			return fmt.Errorf("recv frame: %w", err)
		}
		instrs, err := decodeFrame(frame)
		if err != nil {
			s.logger.Error("dropping malformed streaming frame", "err", err)
			continue
		}
		for _, ix := range instrs {
			out <- ix
		}
	}
}

// decodeFrame parses a batch of instructions out of one streamed
// frame: a u32 count followed by, per entry, a bool cpi flag, a u64
// last_known_block, a u32-prefixed accounts list of 32-byte pubkeys,
// and a u32-prefixed data blob.
func decodeFrame(frame []byte) ([]protocol.ProtocolInstruction, error) {
	pos := 0
	need := func(n int) error {
		if pos+n > len(frame) {
			return fmt.Errorf("truncated streaming frame")
		}
		return nil
	}
	if err := need(4); err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(frame[pos:])
	pos += 4

	out := make([]protocol.ProtocolInstruction, 0, count)
	for i := uint32(0); i < count; i++ {
		if err := need(1); err != nil {
			return nil, err
		}
		cpi := frame[pos] != 0
		pos++

		if err := need(8); err != nil {
			return nil, err
		}
		lastBlock := binary.LittleEndian.Uint64(frame[pos:])
		pos += 8

		if err := need(4); err != nil {
			return nil, err
		}
		accCount := binary.LittleEndian.Uint32(frame[pos:])
		pos += 4
		accounts := make([]protocol.Pubkey, 0, accCount)
		for j := uint32(0); j < accCount; j++ {
			if err := need(32); err != nil {
				return nil, err
			}
			var pk protocol.Pubkey
			copy(pk[:], frame[pos:pos+32])
			accounts = append(accounts, pk)
			pos += 32
		}

		if err := need(4); err != nil {
			return nil, err
		}
		dataLen := binary.LittleEndian.Uint32(frame[pos:])
		pos += 4
		if err := need(int(dataLen)); err != nil {
			return nil, err
		}
		data := make([]byte, dataLen)
		copy(data, frame[pos:pos+int(dataLen)])
		pos += int(dataLen)

		out = append(out, protocol.ProtocolInstruction{
			CPI:            cpi,
			Accounts:       accounts,
			Data:           data,
			LastKnownBlock: lastBlock,
		})
	}
	return out, nil
}

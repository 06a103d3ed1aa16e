package payload

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/rs/zerolog"

	"github.com/BigRLab/streamalert/internal/model"
	"github.com/BigRLab/streamalert/internal/pool"
)

type kinesisSource struct {
	p   *model.Payload
	log zerolog.Logger
}

func (s *kinesisSource) Service() string { return "kinesis" }

// PreParse
//
// kinesis.data 를 base64 디코딩하고, gzip 또는 zlib 헤더가 있으면 압축을 푼다.
// 압축 해제에 실패하면 디코딩된 원본을 그대로 쓴다.
func (s *kinesisSource) PreParse(_ context.Context, yield func(*model.Payload) bool) error {
	data, ok := nestedString(s.p.RawRecord, "kinesis", "data")
	if !ok {
		return fmt.Errorf("%w: kinesis.data missing", ErrMalformedRecord)
	}

	eventID, _ := s.p.RawRecord["eventID"].(string)
	arn, _ := s.p.RawRecord["eventSourceARN"].(string)
	s.log.Debug().Str("event_id", eventID).Str("event_source_arn", arn).Msg("pre-parsing record from kinesis")

	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("%w: kinesis.data: %v", ErrMalformedRecord, err)
	}

	s.p.Refresh(decompress(decoded))
	yield(s.p)
	return nil
}

// decompress 는 gzip / zlib 를 자동 감지한다.
func decompress(data []byte) []byte {
	switch {
	case isGzip(data):
		if out, err := pool.Gunzip(data); err == nil {
			return out
		}
	case isZlib(data):
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return data
		}
		defer zr.Close()
		if out, err := io.ReadAll(zr); err == nil {
			return out
		}
	}
	return data
}

func isGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

// RFC 1950: CM=8, 헤더 16bit 가 31 의 배수
func isZlib(b []byte) bool {
	return len(b) >= 2 && b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

package payload

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/BigRLab/streamalert/internal/model"
)

type snsSource struct {
	p   *model.Payload
	log zerolog.Logger
}

func (s *snsSource) Service() string { return "sns" }

// PreParse 는 Sns.Message 를 그대로 pre-parsed 데이터로 쓴다.
func (s *snsSource) PreParse(_ context.Context, yield func(*model.Payload) bool) error {
	msg, ok := nestedString(s.p.RawRecord, "Sns", "Message")
	if !ok {
		return fmt.Errorf("%w: Sns.Message missing", ErrMalformedRecord)
	}

	messageID, _ := nestedString(s.p.RawRecord, "Sns", "MessageId")
	arn, _ := s.p.RawRecord["EventSubscriptionArn"].(string)
	s.log.Debug().Str("message_id", messageID).Str("subscription_arn", arn).Msg("pre-parsing record from sns")

	s.p.Refresh([]byte(msg))
	yield(s.p)
	return nil
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayloadString(t *testing.T) {
	tests := []struct {
		service string
		want    string
	}{
		{"s3", "<S3Payload valid:false log_source: entity:e type: record:[]>"},
		{"sns", "<SnsPayload valid:false log_source: entity:e type: record:[]>"},
		{"kinesis", "<KinesisPayload valid:false log_source: entity:e type: record:[]>"},
		{"", "<StreamPayload valid:false log_source: entity:e type: record:[]>"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NewPayload(tt.service, "e", nil).String())
	}
}

func TestPayloadRefreshClearsClassification(t *testing.T) {
	p := NewPayload("s3", "bucket", nil)
	p.Refresh([]byte("line 1"))
	p.LogSource = "log"
	p.Type = "json"
	p.Records = []Record{{"k": "v"}}
	p.NormalizedTypes = map[string][]string{"a": {"b"}}
	p.Valid = true

	p.Refresh([]byte("line 2"))

	assert.Equal(t, "line 2", string(p.PreParsedRecord))
	assert.Empty(t, p.LogSource)
	assert.Empty(t, p.Type)
	assert.Nil(t, p.Records)
	assert.Nil(t, p.NormalizedTypes)
	assert.False(t, p.Valid)
	assert.Equal(t, "bucket", p.Entity)
}

func TestPayloadClassified(t *testing.T) {
	p := NewPayload("kinesis", "stream", nil)
	p.LogSource = "log:01"
	p.Type = "json"
	p.Records = []Record{{"a": 1}, {"a": 2}}

	out := p.Classified()

	assert.Len(t, out, 2)
	assert.Equal(t, ClassifiedRecord{Service: "kinesis", Entity: "stream", LogSource: "log:01", Type: "json", Record: Record{"a": 2}}, out[1])
}

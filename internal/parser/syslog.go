package parser

import (
	"regexp"

	"github.com/BigRLab/streamalert/internal/model"
	"github.com/BigRLab/streamalert/internal/schema"
)

// RFC 3164 style: "Jan 26 19:35:33 vagrant-ubuntu-trusty-64 sudo: pam_unix(sudo:session): ..."
var syslogLine = regexp.MustCompile(
	`^(?P<timestamp>[A-Z][a-z]{2}\s+\d{1,2}\s\d{2}:\d{2}:\d{2})\s` +
		`(?P<host>\S+)\s` +
		`(?P<application>[^\s:\[]+)(?:\[\d+\])?:\s` +
		`(?P<message>.*)$`)

// SyslogParser extracts timestamp, host, application and message from a syslog line.
type SyslogParser struct{ base }

func (p *SyslogParser) Kind() string { return KindSyslog }

func (p *SyslogParser) Parse(s *schema.Node, data []byte) []model.Record {
	if s == nil || s.Kind != schema.KindMap || len(s.Fields) == 0 {
		return nil
	}

	m := syslogLine.FindSubmatch(data)
	if m == nil {
		return nil
	}

	groups := make(map[string]string, 4)
	for i, name := range syslogLine.SubexpNames() {
		if name != "" {
			groups[name] = string(m[i])
		}
	}

	rec := make(model.Record, len(s.Fields))
	for _, key := range s.Keys() {
		v, ok := groups[key]
		if !ok {
			return nil
		}
		rec[key] = v
	}
	return []model.Record{rec}
}

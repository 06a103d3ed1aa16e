// internal/config/catalog.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BigRLab/streamalert/internal/parser"
	"github.com/BigRLab/streamalert/internal/schema"
)

// ErrInvalidCatalog 는 catalog 파일의 구조가 잘못되었을 때 반환된다.
// 시작 시점에만 발생하며 프로세스를 종료시키는 에러다.
var ErrInvalidCatalog = errors.New("invalid catalog")

// SupportedServices 는 sources.json 최상위에 올 수 있는 서비스 이름.
var SupportedServices = []string{"kinesis", "s3", "sns"}

// Catalog
// ------------------------------------------------------------
// sources.json / logs.json / types.json 을 읽어 만든 불변 선언 집합.
// 로드 이후에는 읽기만 하므로 여러 goroutine 이 공유해도 안전하다.
type Catalog struct {
	// Sources: service → entity → 선언
	Sources map[string]map[string]Entity

	// Logs: 선언 순서를 유지하는 log 이름 → 스키마
	Logs *Logs

	// Types: log family → normalized type → 필드 이름 목록
	Types map[string]map[string][]string
}

// Entity 는 sources.json 의 entity 하나 (kinesis stream, s3 bucket, sns topic).
// Exclude 는 logs family 중 이 entity 에서 시도하지 않을 log 이름 또는 family.
type Entity struct {
	Logs    []string `yaml:"logs"`
	Exclude []string `yaml:"exclude"`
}

// LogSchema 는 logs.json 의 선언 하나.
type LogSchema struct {
	Name          string         `yaml:"-"`
	Parser        string         `yaml:"parser"`
	Schema        *schema.Node   `yaml:"schema"`
	Configuration parser.Options `yaml:"configuration"`
}

// Family 는 "family:variant" 형태의 이름에서 family 부분을 돌려준다.
func (l *LogSchema) Family() string {
	family, _, _ := strings.Cut(l.Name, ":")
	return family
}

// Logs 는 선언 순서를 보존하는 log 스키마 목록.
// 후보 스키마 열거 순서가 곧 tie-break 순서이므로 map 으로 들고 있으면 안 된다.
type Logs struct {
	order  []*LogSchema
	byName map[string]*LogSchema
}

// NewLogs 는 주어진 순서 그대로 Logs 를 만든다.
func NewLogs(schemas ...*LogSchema) *Logs {
	l := &Logs{byName: make(map[string]*LogSchema, len(schemas))}
	for _, s := range schemas {
		l.order = append(l.order, s)
		l.byName[s.Name] = s
	}
	return l
}

func (l *Logs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: logs must be a mapping", value.Line)
	}
	*l = Logs{byName: make(map[string]*LogSchema, len(value.Content)/2)}
	for i := 0; i+1 < len(value.Content); i += 2 {
		name := value.Content[i].Value
		ls := &LogSchema{}
		if err := value.Content[i+1].Decode(ls); err != nil {
			return fmt.Errorf("log %s: %w", name, err)
		}
		ls.Name = name
		if _, dup := l.byName[name]; dup {
			return fmt.Errorf("line %d: duplicate log %s", value.Content[i].Line, name)
		}
		l.order = append(l.order, ls)
		l.byName[name] = ls
	}
	return nil
}

// All 은 선언 순서대로 모든 스키마를 돌려준다.
func (l *Logs) All() []*LogSchema {
	if l == nil {
		return nil
	}
	return l.order
}

// Get 은 이름으로 스키마를 찾는다.
func (l *Logs) Get(name string) (*LogSchema, bool) {
	if l == nil {
		return nil, false
	}
	s, ok := l.byName[name]
	return s, ok
}

// Names 는 선언 순서대로 이름을 돌려준다.
func (l *Logs) Names() []string {
	names := make([]string, 0, len(l.All()))
	for _, s := range l.All() {
		names = append(names, s.Name)
	}
	return names
}

// LoadCatalog
//
// dir 에서 sources.json, logs.json (필수) 과 types.json (선택) 을 읽고 검증한다.
// JSON 은 yaml.v3 로 읽는다. 키 순서가 보존되고 YAML 로 작성된 파일도 그대로 읽힌다.
func LoadCatalog(dir string) (*Catalog, error) {
	c := &Catalog{}

	if err := readDecl(filepath.Join(dir, "sources.json"), &c.Sources); err != nil {
		return nil, err
	}
	c.Logs = &Logs{}
	if err := readDecl(filepath.Join(dir, "logs.json"), c.Logs); err != nil {
		return nil, err
	}

	typesPath := filepath.Join(dir, "types.json")
	if _, err := os.Stat(typesPath); err == nil {
		if err := readDecl(typesPath, &c.Types); err != nil {
			return nil, err
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func readDecl(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, filepath.Base(path), err)
	}
	return nil
}

// Validate
//
// 검사 항목:
//   - logs:    각 log 에 parser / schema 가 있고, parser 종류가 등록되어 있음
//   - sources: 최상위 키는 kinesis / s3 / sns 만 허용
//   - sources: 각 entity 는 비어있지 않은 logs 목록을 가짐
func (c *Catalog) Validate() error {
	if len(c.Logs.All()) == 0 {
		return fmt.Errorf("%w: no logs declared", ErrInvalidCatalog)
	}
	for _, l := range c.Logs.All() {
		if l.Parser == "" || l.Schema == nil {
			return fmt.Errorf("%w: schema or parser missing for %s", ErrInvalidCatalog, l.Name)
		}
		if _, err := parser.New(l.Parser, l.Configuration); err != nil {
			return fmt.Errorf("%w: log %s: %v", ErrInvalidCatalog, l.Name, err)
		}
	}

	var invalid []string
	for service := range c.Sources {
		if !isSupported(service) {
			invalid = append(invalid, "'"+service+"'")
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return fmt.Errorf("%w: sources contains invalid key(s): %s", ErrInvalidCatalog, strings.Join(invalid, ", "))
	}

	for _, entities := range c.Sources {
		for name, entity := range entities {
			if entity.Logs == nil {
				return fmt.Errorf("%w: missing 'logs' key for entity: %s", ErrInvalidCatalog, name)
			}
			if len(entity.Logs) == 0 {
				return fmt.Errorf("%w: list of 'logs' is empty for entity: %s", ErrInvalidCatalog, name)
			}
		}
	}
	return nil
}

func isSupported(service string) bool {
	for _, s := range SupportedServices {
		if s == service {
			return true
		}
	}
	return false
}

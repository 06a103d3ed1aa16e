// internal/schema/node.go
package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// 스키마에서 인식하는 primitive 타입 태그.
// 이 외의 문자열은 "unsupported schema type" 으로 취급된다 (coerce.go 참고).
const (
	TagString  = "string"
	TagInteger = "integer"
	TagFloat   = "float"
	TagBoolean = "boolean"
)

// EnvelopeKey 는 JSON 파서가 envelope_keys 를 레코드에 주입할 때 쓰는 필드 이름.
// 선언된 sub-schema 모양과 맞지 않아도 타입 변환 단계에서 에러로 보지 않는다.
const EnvelopeKey = "streamalert:envelope_keys"

// Kind 는 스키마 노드의 종류.
type Kind int

const (
	KindScalar Kind = iota // primitive 태그 (string, integer, ...)
	KindMap                // 필드 이름 → 노드
	KindList               // 원소 타입만 선언, 검증하지 않음
)

// Field 는 map 노드의 필드 하나. 선언 순서를 보존하기 위해 slice 로 들고 있다.
type Field struct {
	Name string
	Node *Node
}

// Node
// ------------------------------------------------------------
// 재귀적으로 정의되는 스키마 트리.
//   - KindScalar: Tag 에 타입 태그
//   - KindMap:    Fields 에 선언 순서대로 필드
//   - KindList:   Elem 에 선언된 원소 타입 (없을 수 있음)
//
// 로드 이후에는 읽기 전용이며 여러 goroutine 이 공유해도 안전하다.
type Node struct {
	Kind   Kind
	Tag    string
	Fields []Field
	Elem   *Node
}

// Scalar / Map / List 는 테스트와 파서에서 트리를 직접 조립할 때 쓰는 생성자.
func Scalar(tag string) *Node { return &Node{Kind: KindScalar, Tag: tag} }

func Map(fields ...Field) *Node { return &Node{Kind: KindMap, Fields: fields} }

func List(elem *Node) *Node { return &Node{Kind: KindList, Elem: elem} }

// F 는 Field 축약 생성자.
func F(name string, n *Node) Field { return Field{Name: name, Node: n} }

// Parse 는 JSON 또는 YAML 텍스트로 된 스키마를 트리로 읽는다.
func Parse(data []byte) (*Node, error) {
	var n Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return &n, nil
}

// UnmarshalYAML 은 yaml.v3 노드를 순서를 유지한 채 스키마 트리로 변환한다.
// JSON 은 YAML 의 부분집합이므로 logs.json 도 이 경로로 읽힌다.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.DocumentNode && len(value.Content) == 1 {
		value = value.Content[0]
	}

	switch value.Kind {
	case yaml.ScalarNode:
		*n = Node{Kind: KindScalar, Tag: value.Value}

	case yaml.MappingNode:
		fields := make([]Field, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			child := new(Node)
			if err := child.UnmarshalYAML(value.Content[i+1]); err != nil {
				return err
			}
			fields = append(fields, Field{Name: value.Content[i].Value, Node: child})
		}
		*n = Node{Kind: KindMap, Fields: fields}

	case yaml.SequenceNode:
		var elem *Node
		if len(value.Content) > 0 {
			elem = new(Node)
			if err := elem.UnmarshalYAML(value.Content[0]); err != nil {
				return err
			}
		}
		*n = Node{Kind: KindList, Elem: elem}

	case yaml.AliasNode:
		return n.UnmarshalYAML(value.Alias)

	default:
		return fmt.Errorf("line %d: unsupported schema node", value.Line)
	}
	return nil
}

// Lookup 은 map 노드에서 필드를 찾는다.
func (n *Node) Lookup(name string) (*Node, bool) {
	if n == nil || n.Kind != KindMap {
		return nil, false
	}
	for _, f := range n.Fields {
		if f.Name == name {
			return f.Node, true
		}
	}
	return nil, false
}

// Keys 는 map 노드의 필드 이름을 선언 순서대로 돌려준다.
func (n *Node) Keys() []string {
	if n == nil || n.Kind != KindMap {
		return nil
	}
	keys := make([]string, len(n.Fields))
	for i, f := range n.Fields {
		keys[i] = f.Name
	}
	return keys
}

// IsEmptyMap 은 {} 로 선언된 노드인지 확인한다. 빈 map 은 어떤 값이든 통과시킨다.
func (n *Node) IsEmptyMap() bool {
	return n != nil && n.Kind == KindMap && len(n.Fields) == 0
}

// With 는 필드를 덧붙인 새 map 노드를 돌려준다. 원본은 건드리지 않는다.
// 파서가 envelope / optional key 를 반영한 "확장 스키마" 를 만들 때 사용한다.
func (n *Node) With(extra ...Field) *Node {
	fields := make([]Field, 0, len(n.Fields)+len(extra))
	fields = append(fields, n.Fields...)
	for _, f := range extra {
		if _, exists := n.Lookup(f.Name); !exists {
			fields = append(fields, f)
		}
	}
	return &Node{Kind: KindMap, Fields: fields}
}

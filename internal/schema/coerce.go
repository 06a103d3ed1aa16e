// internal/schema/coerce.go
package schema

import (
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Coerce
// ------------------------------------------------------------
// 파싱된 레코드의 값을 스키마에 선언된 타입으로 변환한 "새" 레코드를 돌려준다.
// 입력 레코드와 그 하위 map 은 수정하지 않는다 (스키마/레코드가 여러 분류 호출에서
// 공유되더라도 aliasing 문제가 생기지 않도록).
//
// 규칙:
//   - string:  항상 문자열로 변환, 실패 없음
//   - integer / float: 파싱 실패 시 key·value 를 로그로 남기고 레코드 전체 실패
//   - boolean: 소문자 문자열이 "true" 인지 비교, 실패 없음
//   - {}:      빈 map 은 그대로 통과
//   - envelope key 의 값이 map 이 아니면 조용히 skip
//   - map:     재귀, 하위 실패는 그대로 전파
//   - list:    원소 검증 없음, 그대로 유지
//   - 그 외 태그: "unsupported schema type" 에러 로그만 남기고 계속 진행
//
// 두 번째 반환값은 integer/float 변환이 한 번도 실패하지 않았을 때만 true.
func Coerce(log zerolog.Logger, rec map[string]any, node *Node) (map[string]any, bool) {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}

	if node == nil || node.Kind != KindMap {
		return out, true
	}

	for _, f := range node.Fields {
		key, decl := f.Name, f.Node
		value, present := out[key]

		switch decl.Kind {
		case KindScalar:
			switch decl.Tag {
			case TagString:
				if present {
					out[key] = stringify(value)
				}

			case TagInteger:
				n, ok := toInt(value)
				if !ok {
					log.Error().Str("key", key).Interface("value", value).
						Msg("invalid schema, value is not an int")
					return nil, false
				}
				out[key] = n

			case TagFloat:
				n, ok := toFloat(value)
				if !ok {
					log.Error().Str("key", key).Interface("value", value).
						Msg("invalid schema, value is not a float")
					return nil, false
				}
				out[key] = n

			case TagBoolean:
				if present {
					out[key] = strings.ToLower(stringify(value)) == "true"
				}

			default:
				log.Error().Str("type", decl.Tag).Msg("unsupported schema type")
			}

		case KindMap:
			if decl.IsEmptyMap() {
				continue
			}

			nested, isMap := value.(map[string]any)
			if !isMap {
				if key == EnvelopeKey {
					continue
				}
				log.Error().Str("key", key).Interface("value", value).
					Msg("invalid schema, value is not a map")
				return nil, false
			}

			converted, ok := Coerce(log, nested, decl)
			if !ok {
				return nil, false
			}
			out[key] = converted

		case KindList:
			// 원소 단위 검증 없음

		default:
			log.Error().Int("kind", int(decl.Kind)).Msg("unsupported schema type")
		}
	}

	return out, true
}

// stringify 는 값의 "자연스러운" 문자열 표현을 만든다.
// 숫자는 불필요한 0 없이, map/list 는 JSON 으로 직렬화한다.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case []byte:
		return string(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return strings.Trim(string(b), `"`)
	}
}

// toInt 는 문자열은 엄격하게 정수로 파싱하고, 이미 숫자인 값은 소수점 이하를 버린다.
func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return truncate(f)
	case float64:
		return truncate(t)
	case float32:
		return truncate(float64(t))
	case int:
		return int64(t), true
	case int64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// truncate 는 int64 범위를 벗어난 값을 실패로 본다. 그대로 변환하면 값이 깨진다.
func truncate(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

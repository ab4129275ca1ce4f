package result

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// EncodingBase64 marks an output field whose JSON value is base64 because
// the program wrote bytes that are not valid UTF-8.
const EncodingBase64 = "base64"

type outcomeAlias Outcome

type outcomeJSON struct {
	outcomeAlias
	StdoutEncoding string `json:"stdoutEncoding,omitempty"`
	StderrEncoding string `json:"stderrEncoding,omitempty"`
}

// MarshalJSON keeps program output byte exact. Valid UTF-8 is written as a
// plain string; anything else is base64 with a matching *Encoding field.
func (o Outcome) MarshalJSON() ([]byte, error) {
	wire := outcomeJSON{outcomeAlias: outcomeAlias(o)}
	wire.Stdout, wire.StdoutEncoding = encodeOutput(o.Stdout)
	wire.Stderr, wire.StderrEncoding = encodeOutput(o.Stderr)
	return json.Marshal(wire)
}

// UnmarshalJSON reverses MarshalJSON.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var wire outcomeJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	stdout, err := decodeOutput(wire.Stdout, wire.StdoutEncoding)
	if err != nil {
		return fmt.Errorf("decode stdout: %w", err)
	}
	stderr, err := decodeOutput(wire.Stderr, wire.StderrEncoding)
	if err != nil {
		return fmt.Errorf("decode stderr: %w", err)
	}
	*o = Outcome(wire.outcomeAlias)
	o.Stdout = stdout
	o.Stderr = stderr
	return nil
}

func encodeOutput(s string) (string, string) {
	if utf8.ValidString(s) {
		return s, ""
	}
	return base64.StdEncoding.EncodeToString([]byte(s)), EncodingBase64
}

func decodeOutput(s, encoding string) (string, error) {
	switch encoding {
	case "":
		return s, nil
	case EncodingBase64:
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	default:
		return "", fmt.Errorf("unknown output encoding %q", encoding)
	}
}

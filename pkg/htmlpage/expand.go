// Package htmlpage renders proxd's HTML pages: template variable expansion
// for user-supplied page templates and the built-in error pages.
//
// Templates are plain byte streams containing {name} tokens. Expansion is a
// single pass; tokens with no matching variable are emitted literally, so a
// template never fails to render.
package htmlpage

import (
	"bufio"
	"io"
	"time"
)

// Vars maps substitution variable names to their string values.
type Vars map[string]string

// AddStandard fills in the variables every page template may reference:
// "package", "version" and "date".
func (v Vars) AddStandard(product, version string) {
	v["package"] = product
	v["version"] = version
	v["date"] = time.Now().Format(time.RFC1123)
}

// tokenByte reports whether b may appear inside a {name} token.
func tokenByte(b byte) bool {
	return b == '-' || b == '_' ||
		(b >= '0' && b <= '9') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= 'a' && b <= 'z')
}

// Expand copies src to dst, replacing every {name} token whose name is
// present in vars. Unknown tokens and stray braces pass through unchanged.
func Expand(dst io.Writer, src io.Reader, vars Vars) error {
	r := bufio.NewReader(src)
	w := bufio.NewWriter(dst)

	for {
		b, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if b != '{' {
			if err := w.WriteByte(b); err != nil {
				return err
			}
			continue
		}

		name, terminated, err := readToken(r)
		if err != nil {
			return err
		}
		if terminated {
			if val, ok := vars[string(name)]; ok {
				if _, err := w.WriteString(val); err != nil {
					return err
				}
				continue
			}
			// Unknown variable: emit the token as it appeared.
			name = append(name, '}')
		}
		if err := w.WriteByte('{'); err != nil {
			return err
		}
		if _, err := w.Write(name); err != nil {
			return err
		}
	}

	return w.Flush()
}

// readToken consumes a candidate variable name after an opening brace.
// terminated is true when a closing brace was found (and consumed).
func readToken(r *bufio.Reader) (name []byte, terminated bool, err error) {
	for {
		b, err := r.ReadByte()
		if err == io.EOF {
			return name, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if b == '}' {
			return name, true, nil
		}
		if !tokenByte(b) {
			// Not a token after all; push the byte back for the main loop.
			if err := r.UnreadByte(); err != nil {
				return nil, false, err
			}
			return name, false, nil
		}
		name = append(name, b)
	}
}

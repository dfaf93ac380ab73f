package htmlpage

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/gorilla/css/scanner"
)

// declaration is one "property: value" pair, lowercased property.
type declaration struct {
	prop  string
	value string
}

// rule is a style rule whose selector compiled.
type rule struct {
	selectors []cascadia.Selector
	decls     []declaration
}

// parseDeclarations reads a declaration block body such as an inline style
// attribute. !important is dropped.
func parseDeclarations(text string) []declaration {
	return readDeclarations(scanner.New(text), false)
}

// readDeclarations consumes tokens up to EOF, or up to the closing brace
// when inBlock is set.
func readDeclarations(s *scanner.Scanner, inBlock bool) []declaration {
	var out []declaration
	var prop string
	var val []string
	inValue := false

	emit := func() {
		if prop != "" && inValue {
			v := strings.TrimSpace(strings.Join(val, ""))
			v = strings.TrimSpace(strings.TrimSuffix(v, "!important"))
			if v != "" {
				out = append(out, declaration{prop: strings.ToLower(prop), value: v})
			}
		}
		prop, val, inValue = "", nil, false
	}

	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF, scanner.TokenError:
			emit()
			return out
		case scanner.TokenComment:
			continue
		case scanner.TokenS:
			if inValue {
				val = append(val, " ")
			}
			continue
		}

		if tok.Type == scanner.TokenChar {
			switch tok.Value {
			case ";":
				emit()
				continue
			case "}":
				if inBlock {
					emit()
					return out
				}
			case ":":
				if !inValue {
					inValue = true
					continue
				}
			}
		}

		if inValue {
			val = append(val, tok.Value)
		} else if tok.Type == scanner.TokenIdent {
			prop = tok.Value
		}
	}
}

// parseStylesheet reads the rules of a <style> element. At-rules and
// selectors cascadia cannot compile are skipped.
func parseStylesheet(text string) []rule {
	s := scanner.New(text)
	var rules []rule
	var prelude strings.Builder

	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF, scanner.TokenError:
			return rules
		case scanner.TokenComment, scanner.TokenCDO, scanner.TokenCDC:
			continue
		case scanner.TokenAtKeyword:
			skipAtRule(s)
			prelude.Reset()
			continue
		}

		if tok.Type == scanner.TokenChar && tok.Value == "{" {
			decls := readDeclarations(s, true)
			if sels := compileSelectors(prelude.String()); len(sels) > 0 {
				rules = append(rules, rule{selectors: sels, decls: decls})
			}
			prelude.Reset()
			continue
		}
		prelude.WriteString(tok.Value)
	}
}

// skipAtRule consumes an at-rule: up to ';' or through its balanced block.
func skipAtRule(s *scanner.Scanner) {
	depth := 0
	for {
		tok := s.Next()
		if tok.Type == scanner.TokenEOF || tok.Type == scanner.TokenError {
			return
		}
		if tok.Type != scanner.TokenChar {
			continue
		}
		switch tok.Value {
		case ";":
			if depth == 0 {
				return
			}
		case "{":
			depth++
		case "}":
			depth--
			if depth <= 0 {
				return
			}
		}
	}
}

func compileSelectors(prelude string) []cascadia.Selector {
	var out []cascadia.Selector
	for _, part := range strings.Split(prelude, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sel, err := cascadia.Compile(part)
		if err != nil {
			continue
		}
		out = append(out, sel)
	}
	return out
}

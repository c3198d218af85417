package blinksdk

import (
	"bytes"
	"encoding/json"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CSRFExtractor finds the CSRF token embedded in the signin page.
type CSRFExtractor interface {
	Extract(page []byte) (string, bool)
}

// CSRFExtractorFunc adapts a function to CSRFExtractor.
type CSRFExtractorFunc func(page []byte) (string, bool)

func (f CSRFExtractorFunc) Extract(page []byte) (string, bool) { return f(page) }

// ExtractCSRFToken reads the "csrf-token" field of the JSON document in
// <script id="oauth-args" type="application/json">.
func ExtractCSRFToken(page []byte) (string, bool) {
	z := html.NewTokenizer(bytes.NewReader(page))
	inArgs := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken:
			tok := z.Token()
			inArgs = tok.DataAtom == atom.Script && isOAuthArgs(tok.Attr)
		case html.TextToken:
			if !inArgs {
				continue
			}
			var args struct {
				CSRFToken string `json:"csrf-token"`
			}
			if err := json.Unmarshal(z.Text(), &args); err != nil || args.CSRFToken == "" {
				return "", false
			}
			return args.CSRFToken, true
		case html.EndTagToken:
			inArgs = false
		}
	}
}

func isOAuthArgs(attrs []html.Attribute) bool {
	var id, typ string
	for _, a := range attrs {
		switch a.Key {
		case "id":
			id = a.Val
		case "type":
			typ = a.Val
		}
	}
	return id == "oauth-args" && strings.EqualFold(typ, "application/json")
}

package content

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FuzzScriptID is the id of the injected fuzzer element.
const FuzzScriptID = "fuzz1"

// BuildFuzzScript wraps a fuzzer so that it removes its own element,
// publishes the settings and calls fuzzOnload.
func BuildFuzzScript(fuzzer string, settings []float64) string {
	var b strings.Builder
	b.WriteString(fuzzer)
	b.WriteString("\n")
	b.WriteString("document.getElementById('" + FuzzScriptID + "').parentNode.removeChild(document.getElementById('" + FuzzScriptID + "'));\n")
	b.WriteString("fuzzSettings = [" + joinJSNumbers(settings) + "];\n")
	b.WriteString("fuzzOnload();\n")
	return b.String()
}

// InjectFuzzer parses an HTML document and appends the fuzzer script
// element to its head, or to the root element when there is no head.
func InjectFuzzer(r io.Reader, script string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	target := doc.Find("head").First()
	if target.Length() == 0 {
		target = doc.Children().First()
	}
	if target.Length() == 0 {
		return nil, fmt.Errorf("no insertion point for fuzzer script")
	}

	target.AppendNodes(scriptNode(FuzzScriptID, script))
	return doc, nil
}

func scriptNode(id, text string) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Script,
		Data:     "script",
		Attr: []html.Attribute{
			{Key: "id", Val: id},
			{Key: "type", Val: "text/javascript"},
		},
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return n
}

// Render serializes a document.
func Render(doc *goquery.Document) (string, error) {
	return goquery.OuterHtml(doc.Selection)
}

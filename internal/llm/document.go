package llm

import (
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const doctype = "<!DOCTYPE html>"

// normalizeDocument strips markdown fences and re-renders the model output as
// a complete HTML document with a doctype. Output with no visible body content
// is rejected.
func normalizeDocument(content string) (string, error) {
	trimmed := stripCodeFence(strings.TrimSpace(content))
	if trimmed == "" {
		return "", eris.New("html content is empty")
	}

	doc, err := html.Parse(strings.NewReader(trimmed))
	if err != nil {
		return "", eris.Wrap(err, "parsing html content")
	}

	removeComments(doc)

	body := findElement(doc, atom.Body)
	if body == nil || !hasContent(body) {
		return "", eris.New("html content empty after cleaning")
	}

	var builder strings.Builder
	hasDoctype := false
	for child := doc.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.DoctypeNode {
			hasDoctype = true
			break
		}
	}
	if !hasDoctype {
		builder.WriteString(doctype)
	}

	if err := html.Render(&builder, doc); err != nil {
		return "", eris.Wrap(err, "rendering html document")
	}

	return builder.String(), nil
}

func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}

	body := content[3:]
	newline := strings.IndexByte(body, '\n')
	if newline == -1 {
		return content
	}
	body = body[newline+1:]

	trimmedBody := strings.TrimRight(body, " \t\r\n")
	if !strings.HasSuffix(trimmedBody, "```") {
		return content
	}

	trimmedBody = strings.TrimRight(trimmedBody[:len(trimmedBody)-3], " \t\r\n")
	return strings.TrimSpace(trimmedBody)
}

func removeComments(node *html.Node) {
	for child := node.FirstChild; child != nil; {
		next := child.NextSibling
		if child.Type == html.CommentNode {
			node.RemoveChild(child)
		} else {
			removeComments(child)
		}
		child = next
	}
}

func findElement(node *html.Node, target atom.Atom) *html.Node {
	if node.Type == html.ElementNode && node.DataAtom == target {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, target); found != nil {
			return found
		}
	}
	return nil
}

func hasContent(node *html.Node) bool {
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		switch child.Type {
		case html.ElementNode:
			return true
		case html.TextNode:
			if strings.TrimSpace(child.Data) != "" {
				return true
			}
		}
	}
	return false
}

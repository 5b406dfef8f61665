package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Matcher locates containers and the name/status nodes inside each one.
// Name and Status return an empty selection when nothing matches.
type Matcher interface {
	Containers(doc *goquery.Document) *goquery.Selection
	Name(container *goquery.Selection) *goquery.Selection
	Status(container *goquery.Selection) *goquery.Selection
}

// IDSubstringMatcher pairs nodes by substrings of their id attribute.
type IDSubstringMatcher struct {
	// ContainerSelector is a CSS selector for the repeating container, e.g. "div.PLA_linia".
	ContainerSelector string
	// NodeSelector narrows candidate label nodes, e.g. "span". Empty means any element.
	NodeSelector string
	// NameToken must appear in the id of the name node.
	NameToken string
	// StatusToken must appear in the id of the status node.
	StatusToken string
	// StatusExclude must not appear in the id of the status node. Auxiliary
	// ids such as "Content1_lbLabelHora" also contain StatusToken and are
	// skipped by it.
	StatusExclude string
}

// Containers returns every container node in document order.
func (m IDSubstringMatcher) Containers(doc *goquery.Document) *goquery.Selection {
	return doc.Find(m.ContainerSelector)
}

// Name returns the first descendant whose id contains NameToken.
func (m IDSubstringMatcher) Name(container *goquery.Selection) *goquery.Selection {
	return m.first(container, func(id string) bool {
		return strings.Contains(id, m.NameToken)
	})
}

// Status returns the first descendant whose id contains StatusToken but not StatusExclude.
func (m IDSubstringMatcher) Status(container *goquery.Selection) *goquery.Selection {
	return m.first(container, func(id string) bool {
		if !strings.Contains(id, m.StatusToken) {
			return false
		}
		return m.StatusExclude == "" || !strings.Contains(id, m.StatusExclude)
	})
}

func (m IDSubstringMatcher) first(container *goquery.Selection, match func(id string) bool) *goquery.Selection {
	selector := m.NodeSelector
	if selector == "" {
		selector = "*"
	}
	return container.Find(selector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		id, ok := s.Attr("id")
		return ok && id != "" && match(id)
	}).First()
}

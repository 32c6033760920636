package resources

import (
	"fmt"
	"strings"

	"github.com/briangreenhill/killerwiki/models"
)

// FormatList renders a page of items with its pagination footer
func FormatList[T models.Identifiable](name string, list *models.ListResponse[T], item func(T) string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", name)
	if len(list.Items) == 0 {
		b.WriteString("(none)\n")
	}
	for _, it := range list.Items {
		fmt.Fprintf(&b, "- [%d] %s\n", it.EntityID(), item(it))
	}
	p := list.Pagination
	fmt.Fprintf(&b, "\nPage %d of %d (%d total)", p.Page, max(p.PageCount, 1), p.Count)
	if p.NextPage {
		b.WriteString(" · more with --page ")
		fmt.Fprint(&b, p.Page+1)
	}
	b.WriteString("\n")
	return b.String()
}

// FormatSerialKiller renders a profile and its answers grouped by section
func FormatSerialKiller(sk models.SerialKiller) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", sk.Name)
	fmt.Fprintf(&b, "ID: %d\n", sk.ID)
	if sk.DateOfBirth != nil {
		fmt.Fprintf(&b, "Born: %s\n", sk.DateOfBirth.Format("2006-01-02"))
	}
	if sk.PhotoURL != nil && *sk.PhotoURL != "" {
		fmt.Fprintf(&b, "Photo: %s\n", *sk.PhotoURL)
	}

	for _, s := range models.BuildSections(sk.Answers) {
		fmt.Fprintf(&b, "\n### %s\n", s.Name)
		for _, q := range s.Questions {
			fmt.Fprintf(&b, "**%s**\n", q.Prompt)
			for _, a := range q.Answers {
				fmt.Fprintf(&b, "%s\n", a.Body)
			}
		}
	}
	return b.String()
}

func FormatSection(s models.Section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", s.Name)
	fmt.Fprintf(&b, "ID: %d\n", s.ID)
	if len(s.Questions) > 0 {
		b.WriteString("Questions:\n")
	}
	for _, q := range s.Questions {
		fmt.Fprintf(&b, "- [%d] %s (%s)\n", q.ID, q.Prompt, q.Type)
	}
	return b.String()
}

func FormatAnswer(a models.Answer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Answer %d\n", a.ID)
	fmt.Fprintf(&b, "Profile: %d\n", a.ProfileID)
	fmt.Fprintf(&b, "Question: %d\n", a.QuestionID)
	if a.Question != nil {
		fmt.Fprintf(&b, "Prompt: %s\n", a.Question.Prompt)
	}
	fmt.Fprintf(&b, "\n%s\n", a.Body)
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

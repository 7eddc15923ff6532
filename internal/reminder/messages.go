package reminder

import (
	"fmt"
	"strings"

	"taskmanager/internal/model"
)

// Template is the title/body pair of one reminder kind. "%s" in either is
// replaced by the task title.
type Template struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type Templates map[model.ReminderKind]Template

// EnglishTemplates keeps the urgency of each kind: an upcoming warning the
// day before, a due-today alert, a kickoff notice and a stale-progress nudge.
func EnglishTemplates() Templates {
	return Templates{
		model.ReminderDayBefore:      {Title: "⏰ Task due tomorrow", Body: `The task "%s" ends tomorrow.`},
		model.ReminderSameDay:        {Title: "🚨 Last day for:", Body: `The task "%s" ends today.`},
		model.ReminderStartDay:       {Title: "🚀 Task starts today", Body: `The task "%s" starts today.`},
		model.ReminderSevenDaysAfter: {Title: "📌 How is it going?", Body: `The task "%s" was created a week ago. Time to check progress.`},
	}
}

func FrenchTemplates() Templates {
	return Templates{
		model.ReminderDayBefore:      {Title: "⏰ Tâche à venir demain", Body: `La tâche "%s" se termine demain.`},
		model.ReminderSameDay:        {Title: "🚨 Dernier jour pour :", Body: `La tâche "%s" se termine aujourd'hui.`},
		model.ReminderStartDay:       {Title: "🚀 La tâche commence aujourd'hui", Body: `La tâche "%s" commence aujourd'hui.`},
		model.ReminderSevenDaysAfter: {Title: "📌 Où en êtes-vous ?", Body: `La tâche "%s" a été créée il y a une semaine. Pensez à faire le point.`},
	}
}

// TemplatesFor returns the built-in set for locale ("en", "fr"), with
// overrides applied per kind. Empty override fields keep the built-in text.
func TemplatesFor(locale string, overrides map[string]Template) (Templates, error) {
	var t Templates
	switch strings.ToLower(strings.TrimSpace(locale)) {
	case "", "en":
		t = EnglishTemplates()
	case "fr":
		t = FrenchTemplates()
	default:
		return nil, fmt.Errorf("unsupported reminder locale %q", locale)
	}
	for k, o := range overrides {
		kind := model.ReminderKind(k)
		if !kind.Valid() {
			return nil, fmt.Errorf("unknown reminder kind %q in messages", k)
		}
		cur := t[kind]
		if o.Title != "" {
			cur.Title = o.Title
		}
		if o.Body != "" {
			cur.Body = o.Body
		}
		t[kind] = cur
	}
	return t, nil
}

// Render fills in the task title. Kinds without a template fall back to the
// English set.
func (t Templates) Render(kind model.ReminderKind, title string) (string, string) {
	tpl, ok := t[kind]
	if !ok {
		tpl = EnglishTemplates()[kind]
	}
	return strings.ReplaceAll(tpl.Title, "%s", title), strings.ReplaceAll(tpl.Body, "%s", title)
}

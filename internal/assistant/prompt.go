package assistant

import (
	"strings"
)

const (
	classifyInstructions = "Based on the following question, determine which data source or country source is best suited to provide an answer. " +
		"Respond with just the data source or country name. " +
		"If none of these data sources or countries are relevant, respond with a reason why you do not have an answer."
	answerInstructions = "Answer the following question based on the provided trending topics. When in doubt, answer with the most recent data"
)

type example struct {
	question string
	answer   string
}

var routingExamples = []example{
	{question: "What was trending in the US?", answer: LabelUSTrends},
	{question: "What has been trending outside of the US?", answer: LabelInternationalTrends},
	{question: "What is popular in Africa?", answer: LabelInternationalTrends},
}

// InsertFilter places clause in front of the first GROUP BY of template.
// Templates without a GROUP BY are returned unchanged.
func InsertFilter(template, clause string) string {
	idx := strings.Index(template, "GROUP BY")
	if idx < 0 {
		return template
	}
	return template[:idx] + clause + " " + template[idx:]
}

func classificationPrompt(catalog Catalog, question string) string {
	prefix := routingPrefix(catalog)

	var b strings.Builder
	for _, ex := range routingExamples {
		b.WriteString(prefix)
		b.WriteString("\nQuestion: ")
		b.WriteString(ex.question)
		b.WriteString("\n\nAnswer: ")
		b.WriteString(ex.answer)
		b.WriteString("\n\n")
	}
	b.WriteString(prefix)
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

func routingPrefix(catalog Catalog) string {
	var b strings.Builder
	b.WriteString(classifyInstructions)
	b.WriteString("\n\nData Sources:\n")
	for _, label := range catalog.Labels() {
		b.WriteString("* ")
		b.WriteString(label)
		b.WriteString("\n")
	}
	b.WriteString("\nCountry Sources:\n")
	b.WriteString(strings.Join(catalog.Countries, "\n"))
	b.WriteString("\n")
	return b.String()
}

func answerPrompt(question, data string) string {
	var b strings.Builder
	b.WriteString(answerInstructions)
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(question)
	b.WriteString("\n\nGoogle Search trends data:\n")
	b.WriteString(data)
	b.WriteString("\n")
	return b.String()
}

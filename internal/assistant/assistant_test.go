package assistant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendrbot/trendrbot/internal/generation"
	"github.com/trendrbot/trendrbot/internal/model"
	"github.com/trendrbot/trendrbot/internal/query"
)

type fakeGenerator struct {
	replies []string
	errs    []error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, _ model.Descriptor, prompt string) (generation.Result, error) {
	call := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	if call < len(f.errs) && f.errs[call] != nil {
		return generation.Result{}, f.errs[call]
	}
	if call >= len(f.replies) {
		return generation.Result{}, fmt.Errorf("unexpected generate call %d", call)
	}
	return generation.Result{Text: f.replies[call]}, nil
}

type fakeEngine struct {
	result   query.Result
	err      error
	requests []query.Request
}

func (f *fakeEngine) Execute(_ context.Context, request query.Request) (query.Result, error) {
	f.requests = append(f.requests, request)
	return f.result, f.err
}

func trendRows() query.Result {
	return query.Result{
		Columns: []string{"term", "rank", "week"},
		Rows: [][]any{
			{"Vappu", int64(1), "2024-04-28"},
			{"Eurovision", int64(2), "2024-04-28"},
		},
	}
}

func newTestAssistant(t *testing.T, gen *fakeGenerator, engine *fakeEngine, budget int) *Assistant {
	t.Helper()

	a, err := New(gen, engine, Config{
		Catalog:    DefaultCatalog(),
		Model:      model.Default(),
		CharBudget: budget,
	})
	require.NoError(t, err)
	return a
}

func TestAskFinlandQueriesInternationalTrends(t *testing.T) {
	gen := &fakeGenerator{replies: []string{" Finland \n", "Vappu is the top trend in Finland."}}
	engine := &fakeEngine{result: trendRows()}
	a := newTestAssistant(t, gen, engine, 0)

	answer, err := a.Ask(context.Background(), "What's popular in Finland?")
	require.NoError(t, err)

	assert.Equal(t, KindAnswered, answer.Kind)
	assert.Equal(t, "Vappu is the top trend in Finland.", answer.Text)
	assert.Equal(t, "Finland", answer.Route)
	assert.Equal(t, LabelInternationalTrends, answer.Source)
	assert.Equal(t, "Finland", answer.Country)
	assert.NotEmpty(t, answer.ID)

	require.Len(t, engine.requests, 1)
	request := engine.requests[0]
	assert.Contains(t, request.SQL, "international_top_terms` WHERE country_name = @country GROUP BY term, rank, week")
	assert.Equal(t, []query.Param{{Name: "country", Value: "Finland"}}, request.Params)
	require.Len(t, request.Files, 1)
	assert.Equal(t, "google_trends/international_top_terms.parquet", request.Files[0].ObjectPath)

	require.Len(t, gen.prompts, 2)
	assert.Contains(t, gen.prompts[1], "Question:\nWhat's popular in Finland?")
	assert.Contains(t, gen.prompts[1], "Google Search trends data:\nterm, rank, week\nVappu, 1, 2024-04-28\nEurovision, 2, 2024-04-28")
}

func TestAskEveryCountryRoutesToInternationalSource(t *testing.T) {
	for _, country := range DefaultCatalog().Countries {
		gen := &fakeGenerator{replies: []string{country, "answer"}}
		engine := &fakeEngine{result: trendRows()}
		a := newTestAssistant(t, gen, engine, 0)

		answer, err := a.Ask(context.Background(), "What is trending in "+country+"?")
		require.NoError(t, err, country)
		require.Len(t, engine.requests, 1, country)
		assert.Equal(t, LabelInternationalTrends, answer.Source, country)
		assert.Equal(t, []query.Param{{Name: "country", Value: country}}, engine.requests[0].Params, country)
	}
}

func TestAskSourceLabelRunsTemplateUnfiltered(t *testing.T) {
	gen := &fakeGenerator{replies: []string{LabelUSTrends, "Top US trends..."}}
	engine := &fakeEngine{result: trendRows()}
	a := newTestAssistant(t, gen, engine, 0)

	answer, err := a.Ask(context.Background(), "What was trending in the US?")
	require.NoError(t, err)
	assert.Equal(t, LabelUSTrends, answer.Source)
	assert.Empty(t, answer.Country)

	source, _ := DefaultCatalog().Source(LabelUSTrends)
	require.Len(t, engine.requests, 1)
	assert.Equal(t, source.Template, engine.requests[0].SQL)
	assert.Empty(t, engine.requests[0].Params)
}

func TestAskPassesThroughUnmatchedRoute(t *testing.T) {
	reply := "I do not have trending data for Mars."
	gen := &fakeGenerator{replies: []string{reply}}
	engine := &fakeEngine{}
	a := newTestAssistant(t, gen, engine, 0)

	answer, err := a.Ask(context.Background(), "What's trending on Mars?")
	require.NoError(t, err)
	assert.Equal(t, KindPassThrough, answer.Kind)
	assert.Equal(t, reply, answer.Text)
	assert.Empty(t, engine.requests)
	assert.Len(t, gen.prompts, 1)
}

func TestAskReturnsQueryErrorWithoutAnswerPrompt(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"Finland", "should not be used"}}
	engine := &fakeEngine{err: query.NewExecError(query.KindPermissionDenied, errors.New("Access Denied: Table international_top_terms"))}
	a := newTestAssistant(t, gen, engine, 0)

	_, err := a.Ask(context.Background(), "What's popular in Finland?")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "ERROR: Insufficient permissions - "), err.Error())
	assert.Equal(t, query.KindPermissionDenied, query.KindOf(err))
	assert.Len(t, gen.prompts, 1)
}

func TestAskWrapsForeignEngineErrors(t *testing.T) {
	gen := &fakeGenerator{replies: []string{LabelUSTrends}}
	engine := &fakeEngine{err: errors.New("socket closed")}
	a := newTestAssistant(t, gen, engine, 0)

	_, err := a.Ask(context.Background(), "What was trending in the US?")
	var execErr *query.ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, query.KindUnexpected, execErr.Kind)
}

func TestAskPropagatesGenerationErrors(t *testing.T) {
	gen := &fakeGenerator{errs: []error{generation.ErrEmptyResponse}}
	a := newTestAssistant(t, gen, &fakeEngine{}, 0)

	_, err := a.Ask(context.Background(), "What was trending in the US?")
	assert.ErrorIs(t, err, generation.ErrEmptyResponse)

	gen = &fakeGenerator{replies: []string{LabelUSTrends}, errs: []error{nil, generation.ErrBlocked}}
	a = newTestAssistant(t, gen, &fakeEngine{result: trendRows()}, 0)

	_, err = a.Ask(context.Background(), "What was trending in the US?")
	assert.ErrorIs(t, err, generation.ErrBlocked)
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	gen := &fakeGenerator{}
	a := newTestAssistant(t, gen, &fakeEngine{}, 0)

	_, err := a.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Empty(t, gen.prompts)
}

func TestAskTruncatesDataToBudget(t *testing.T) {
	gen := &fakeGenerator{replies: []string{LabelUSTrends, "answer"}}
	a := newTestAssistant(t, gen, &fakeEngine{result: trendRows()}, 20)

	answer, err := a.Ask(context.Background(), "What was trending in the US?")
	require.NoError(t, err)
	assert.True(t, answer.Truncated)
	assert.Contains(t, gen.prompts[1], "Google Search trends data:\nterm, rank, week\nVap\n")
}

func TestClassificationPromptLayout(t *testing.T) {
	prompt := classificationPrompt(DefaultCatalog(), "What's popular in Finland?")

	assert.Equal(t, 4, strings.Count(prompt, classifyInstructions))
	assert.Equal(t, 4, strings.Count(prompt, "* US Google Trends\n* International Google Trends\n"))
	assert.Contains(t, prompt, "Country Sources:\nArgentina\nAustralia\n")
	assert.Contains(t, prompt, "Question: What is popular in Africa?\n\nAnswer: International Google Trends")
	assert.True(t, strings.HasSuffix(prompt, "Question: What's popular in Finland?\n\nAnswer:"))
}

func TestInsertFilter(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{
			name:     "before first group by",
			template: "SELECT a FROM t GROUP BY a",
			want:     "SELECT a FROM t WHERE x = 1 GROUP BY a",
		},
		{
			name:     "only first occurrence",
			template: "WITH c AS (SELECT a FROM t GROUP BY a) SELECT a FROM c GROUP BY a",
			want:     "WITH c AS (SELECT a FROM t WHERE x = 1 GROUP BY a) SELECT a FROM c GROUP BY a",
		},
		{
			name:     "no group by",
			template: "SELECT a FROM t",
			want:     "SELECT a FROM t",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InsertFilter(tt.template, "WHERE x = 1"))
		})
	}
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(nil, &fakeEngine{}, Config{Catalog: DefaultCatalog(), Model: model.Default()})
	assert.Error(t, err)

	_, err = New(&fakeGenerator{}, nil, Config{Catalog: DefaultCatalog(), Model: model.Default()})
	assert.Error(t, err)

	_, err = New(&fakeGenerator{}, &fakeEngine{}, Config{Catalog: Catalog{}, Model: model.Default()})
	assert.Error(t, err)

	_, err = New(&fakeGenerator{}, &fakeEngine{}, Config{Catalog: DefaultCatalog(), Model: model.New("Gemini", "", "", nil)})
	assert.Error(t, err)
}

func TestAskLogsModelDescriptorPerGenerationCall(t *testing.T) {
	var logs bytes.Buffer
	a, err := New(&fakeGenerator{replies: []string{"I only know about trends."}}, &fakeEngine{}, Config{
		Catalog: DefaultCatalog(),
		Model:   model.Default(),
		Logger:  slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	require.NoError(t, err)

	_, err = a.Ask(context.Background(), "What is on Mars?")
	require.NoError(t, err)

	line := logs.String()
	assert.Contains(t, line, `"msg":"generation call"`)
	assert.Contains(t, line, `"stage":"classify"`)
	assert.Contains(t, line, `"service":"Google Cloud"`)
	assert.Contains(t, line, `"model":"gemini-1.5-pro-preview-0409"`)
	assert.Contains(t, line, `"top_k":40`)
}

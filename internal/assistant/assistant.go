// Package assistant answers questions about search trends. A first prompt
// routes the question to a catalog source or country, the matching query
// runs, and a second prompt phrases the answer from the serialized rows.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trendrbot/trendrbot/internal/generation"
	"github.com/trendrbot/trendrbot/internal/model"
	"github.com/trendrbot/trendrbot/internal/observability"
	"github.com/trendrbot/trendrbot/internal/query"
)

var ErrEmptyQuestion = errors.New("question is required")

const (
	countryFilter = "WHERE country_name = @country"
	countryParam  = "country"

	previewChars = 500
)

type AnswerKind string

const (
	KindAnswered    AnswerKind = "answered"
	KindPassThrough AnswerKind = "passthrough"
)

type Answer struct {
	ID        string     `json:"ask_id"`
	Kind      AnswerKind `json:"kind"`
	Text      string     `json:"answer"`
	Route     string     `json:"route"`
	Source    string     `json:"source,omitempty"`
	Country   string     `json:"country,omitempty"`
	Truncated bool       `json:"truncated,omitempty"`
}

type Config struct {
	Catalog Catalog
	Model   model.Descriptor
	// CharBudget caps the serialized query result placed in the answer
	// prompt. Zero means query.DefaultCharBudget.
	CharBudget int
	RowLimit   int
	Logger     *slog.Logger
}

type Assistant struct {
	generator  generation.Generator
	engine     query.Engine
	catalog    Catalog
	model      model.Descriptor
	charBudget int
	rowLimit   int
	logger     *slog.Logger
}

func New(generator generation.Generator, engine query.Engine, cfg Config) (*Assistant, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	if err := cfg.Catalog.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	if err := cfg.Model.Validate(); err != nil {
		return nil, fmt.Errorf("validate model: %w", err)
	}
	budget := cfg.CharBudget
	if budget <= 0 {
		budget = query.DefaultCharBudget
	}
	return &Assistant{
		generator:  generator,
		engine:     engine,
		catalog:    cfg.Catalog,
		model:      cfg.Model,
		charBudget: budget,
		rowLimit:   cfg.RowLimit,
		logger:     cfg.Logger,
	}, nil
}

func (a *Assistant) Catalog() Catalog {
	return a.catalog
}

// Ask routes and answers one question. Query failures come back as
// *query.ExecError; generation failures wrap the generator's error.
func (a *Assistant) Ask(ctx context.Context, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		observability.ObserveAsk(observability.OutcomeInvalid)
		return Answer{}, ErrEmptyQuestion
	}
	answer := Answer{ID: uuid.NewString()}
	logger := observability.LoggerFor(ctx, a.logger).With(slog.String("ask_id", answer.ID))
	logger.Info("question received", slog.String("question", question))

	routed, err := a.generate(ctx, logger, "classify", classificationPrompt(a.catalog, question))
	if err != nil {
		observability.ObserveAsk(observability.OutcomeGenerationError)
		return answer, fmt.Errorf("classify question: %w", err)
	}
	answer.Route = strings.TrimSpace(routed.Text)
	logger.Info("question routed", slog.String("route", answer.Route))

	source, country, ok := a.resolve(answer.Route)
	if !ok {
		logger.Info("no data source matched, returning classifier response")
		observability.ObserveAsk(observability.OutcomePassthrough)
		answer.Kind = KindPassThrough
		answer.Text = answer.Route
		return answer, nil
	}
	answer.Source = source.Label
	answer.Country = country
	observability.ObserveRoute(source.Label)

	request := query.Request{
		SQL:      source.Template,
		RowLimit: a.rowLimit,
		Files:    []query.TableFile{source.File()},
	}
	if country != "" {
		request.SQL = InsertFilter(source.Template, countryFilter)
		request.Params = []query.Param{{Name: countryParam, Value: country}}
		logger.Debug("detected country", slog.String("country", country))
	}
	logger.Debug("running trends query", slog.String("sql", request.SQL))

	start := time.Now()
	result, err := a.engine.Execute(ctx, request)
	if err != nil {
		observability.ObserveQuery(source.Label, err, time.Since(start), false)
		observability.ObserveAsk(observability.OutcomeQueryError)
		var execErr *query.ExecError
		if !errors.As(err, &execErr) {
			execErr = query.NewExecError(query.KindUnexpected, err)
		}
		logger.Warn("trends query failed", slog.String("kind", execErr.Kind.String()), slog.String("error", execErr.Error()))
		return answer, execErr
	}
	data, truncated := query.Format(result, a.charBudget)
	observability.ObserveQuery(source.Label, nil, time.Since(start), truncated)
	answer.Truncated = truncated
	logger.Debug("trends query results",
		slog.Int("rows", len(result.Rows)),
		slog.Bool("truncated", truncated),
		slog.String("preview", preview(data, previewChars)),
	)

	phrased, err := a.generate(ctx, logger, "answer", answerPrompt(question, data))
	if err != nil {
		observability.ObserveAsk(observability.OutcomeGenerationError)
		return answer, fmt.Errorf("generate answer: %w", err)
	}
	observability.ObserveAsk(observability.OutcomeAnswered)
	answer.Kind = KindAnswered
	answer.Text = phrased.Text
	return answer, nil
}

// resolve maps a classifier response onto a source. Country names win over
// source labels.
func (a *Assistant) resolve(route string) (Source, string, bool) {
	if a.catalog.IsCountry(route) {
		source, ok := a.catalog.Source(a.catalog.CountrySource)
		return source, route, ok
	}
	source, ok := a.catalog.Source(route)
	return source, "", ok
}

func (a *Assistant) generate(ctx context.Context, logger *slog.Logger, stage, prompt string) (generation.Result, error) {
	logger.Debug("generation call",
		slog.String("stage", stage),
		slog.String("family", a.model.Family()),
		slog.String("model", a.model.Version()),
		slog.String("service", a.model.Service()),
		slog.Any("parameters", a.model.Parameters()),
	)
	start := time.Now()
	result, err := a.generator.Generate(ctx, a.model, prompt)
	observability.ObserveGeneration(stage, err, time.Since(start))
	return result, err
}

func preview(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

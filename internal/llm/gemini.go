package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/goalplan/internal/domain"
	"google.golang.org/genai"
)

// GeminiConfig configures one Gemini client.
type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string // overrides the API endpoint, used by tests
	HTTPClient *http.Client
}

// Gemini implements Model on top of the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini model bound to one API key.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

// GeminiFactory returns a Factory producing Gemini models for modelName.
func GeminiFactory(modelName string) Factory {
	return func(ctx context.Context, apiKey string) (Model, error) {
		return NewGemini(ctx, GeminiConfig{APIKey: apiKey, Model: modelName})
	}
}

// CountTokens asks the provider to count tokens for turns.
func (g *Gemini) CountTokens(ctx context.Context, turns []domain.Turn) (int, error) {
	resp, err := g.client.Models.CountTokens(ctx, g.model, toContents(turns), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: count tokens: %w", domain.ErrModelUnavailable, err)
	}
	return int(resp.TotalTokens), nil
}

// Generate runs one GenerateContent call.
func (g *Gemini) Generate(ctx context.Context, persona Persona, turns []domain.Turn) (*Response, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(persona.Temperature),
	}
	if persona.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(persona.SystemInstruction, genai.RoleUser)
	}
	if persona.JSON {
		config.ResponseMIMEType = "application/json"
	}
	if len(persona.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toDeclarations(persona.Tools)}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, toContents(turns), config)
	if err != nil {
		return nil, fmt.Errorf("%w: generate content (%s): %w", domain.ErrModelUnavailable, persona.Name, err)
	}
	return fromGenai(resp), nil
}

func toContents(turns []domain.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		c := &genai.Content{Role: string(t.Role)}
		for _, p := range t.Parts {
			c.Parts = append(c.Parts, genai.NewPartFromText(p))
		}
		contents = append(contents, c)
	}
	return contents
}

func fromGenai(resp *genai.GenerateContentResponse) *Response {
	out := &Response{}
	if resp == nil {
		return out
	}
	for i, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var text strings.Builder
		for _, p := range cand.Content.Parts {
			if p == nil {
				continue
			}
			if p.FunctionCall != nil && i == 0 && out.FunctionCall == nil {
				out.FunctionCall = &FunctionCall{Name: p.FunctionCall.Name, Args: p.FunctionCall.Args}
			}
			text.WriteString(p.Text)
		}
		if text.Len() > 0 || i == 0 {
			out.Candidates = append(out.Candidates, text.String())
		}
	}
	return out
}

func toDeclarations(tools []ToolSpec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		if len(t.Params) > 0 {
			schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
			for _, p := range t.Params {
				schema.Properties[p.Name] = &genai.Schema{
					Type:        schemaType(p.Type),
					Format:      p.Format,
					Description: p.Description,
				}
				if p.Required {
					schema.Required = append(schema.Required, p.Name)
				}
			}
			decl.Parameters = schema
		}
		decls = append(decls, decl)
	}
	return decls
}

func schemaType(t string) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "number":
		return genai.TypeNumber
	default:
		return genai.TypeString
	}
}

package llm

import (
	"bytes"
	"fmt"
	"text/template"
)

var analysisPrompt = template.Must(template.New("analysis").Parse(`You are a world-class, multi-lingual AI research analyst. Analyze the provided text and return a single, structured JSON object.

Instructions:
1. Analyze: read the English title and content to understand the core innovation, methodology, results and impact.
2. Summarize and translate: write the "en" object first, then translate title, what_is_new, how_it_works, why_it_matters and overall_importance_justification into Simplified Chinese for the "zh" object.
3. Rank: score each dimension from 1 to 10 with a short justification.
4. Format: the entire response must be one valid JSON object following the schema below. All fields are mandatory.

Original English title:
{{.Title}}

Content for analysis:
---
{{.Content}}
---

Output schema (JSON):
{
  "en": {
    "title": {{printf "%q" .Title}},
    "what_is_new": "A compelling paragraph explaining the core innovation.",
    "how_it_works": "An easy-to-understand explanation of the methodology.",
    "why_it_matters": "A paragraph explaining the potential impact.",
    "overall_importance_justification": "A final synthesis of why this is important."
  },
  "zh": {
    "title": "...",
    "what_is_new": "...",
    "how_it_works": "...",
    "why_it_matters": "...",
    "overall_importance_justification": "..."
  },
  "keywords": ["5-7", "English", "keywords"],
  "ranking": {
    "scores": {
      "breakthrough_novelty": {"score": "[1-10]", "justification": "..."},
      "human_impact": {"score": "[1-10]", "justification": "..."},
      "field_influence": {"score": "[1-10]", "justification": "..."},
      "technical_maturity": {"score": "[1-10]", "justification": "..."}
    },
    "overall_importance_score": "[a single number from 1.0 to 10.0, e.g. 8.7]"
  }
}
`))

var repairPrompt = template.Must(template.New("repair").Parse(`You are an expert Go engineer writing a scraper for the news source "{{.SourceName}}" at {{.URL}}.
The existing parser for this source stopped returning items. Write a replacement.

Contract:
- Write a complete Go file in package main.
- Define exactly: {{.Signature}}
- Parse fetches the page with host.Fetch(url) from the package "synth/host" (import "synth/host").
  host.Fetch only works for URLs on the same host as {{.URL}}.
- Only these imports are allowed: {{.Allowed}}, synth/host.
- Return at most limit records. Every record is a map with non-empty "title", "url" and "entry_id"
  (use the absolute article URL as entry_id when nothing better exists). Optional keys: "abstract",
  "authors" (comma separated), "published_date" (RFC 3339 or YYYY-MM-DD).
- Resolve relative links against {{.URL}}.
- Respond with Go source only.

Current page HTML (possibly truncated):
---
{{.Page}}
---
{{if .Previous}}
Attempt {{.Iteration}}. Your previous candidate failed.

Previous candidate:
---
{{.Previous}}
---

Failure: {{.Failure}}

Use a materially different extraction strategy this time.
{{end}}`))

var classifyPrompt = template.Must(template.New("classify").Parse(`You are an AI research analyst responsible for curating data sources.
Evaluate the given URL and decide if it points to a high-quality, English-language blog or news site that regularly publishes technical content about AI, machine learning or data science breakthroughs.

Do NOT approve:
- Corporate product marketing pages.
- General tech news sites that only occasionally mention AI.
- Individual researcher homepages or university department pages.
- Social media profiles or forums.

Strongly approve:
- Dedicated research blogs from major AI labs.
- High-quality independent blogs focused on explaining AI research.
- The AI-specific section of a major tech publication.

URL to analyze: {{printf "%q" .URL}}

Output schema (JSON):
{
  "is_high_quality_source": boolean,
  "reasoning": "A concise, one-sentence justification.",
  "source_name": "The proper name of the publication.",
  "source_type": "One of blog, news, other"
}
`))

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}

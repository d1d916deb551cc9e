// Package main hosts the synth command.
//
// Architecture overview:
//   - Ingestion: an interval trigger (or `synth ingest`, or POST /v1/cycles) runs one cycle over the active sources.
//     Each source is resolved through the parser dispatch table, which is rebuilt at cycle start so approved
//     proposals take effect without a restart. Items are deduplicated by canonical URL and fanned out as analysis
//     tasks on the task queue (bounded in-memory channel or Pub/Sub).
//   - Analysis: workers run the Gemini analysis prompt behind the distributed `llm` rate limiter, embed the result
//     and persist it. The relational insert arbitrates duplicates; the vector upsert is best effort.
//   - Healing: a source that fails heal_threshold cycles in a row gets one heal task. The healer asks Gemini for a
//     replacement parser, runs each candidate in the yaegi sandbox and stores the first one that yields valid
//     records as a proposal awaiting review.
//   - Discovery: web search results are classified by Gemini and promising sites are added to the registry.
//
// Quick checklist:
//   - Configure env vars: SYNTH_LLM_API_KEY, SYNTH_DB_DSN, SYNTH_REDIS_ADDR, SYNTH_QUEUE_BACKEND and the
//     SYNTH_SEARCH_* keys for discovery. Everything falls back to in-process backends when unset.
//   - Run locally: synth migrate && synth sources seed && synth serve --config config.yaml.
//   - Review repairs: synth proposals list, then synth proposals approve <id>.
package main

package telemetry

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for pipeline and LLM spans/metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrEmbedTextCount  = attribute.Key("embedding.text_count")
	AttrEmbedDimensions = attribute.Key("embedding.dimensions")

	AttrStage   = attribute.Key("pipeline.stage")
	AttrChannel = attribute.Key("pipeline.channel_id")
)

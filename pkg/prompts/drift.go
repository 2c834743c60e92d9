package prompts

import (
	"fmt"

	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/types"
)

const driftPrimerSystem = `You are a helpful assistant decomposing a user question against a set of community summaries from a knowledge graph.

Using the summaries below, respond with a JSON object in the following format:

{
  "intermediate_answer": "a preliminary answer grounded in the summaries, or an empty string if they contain nothing relevant",
  "score": score_value,
  "follow_up_queries": [{"query": "a focused sub-question that would improve the answer", "score": score_value}]
}

Scores are numbers between 0 and 1 rating answer confidence and sub-question usefulness. Propose at most 5 follow-up queries. Ground everything strictly in the summaries.

---Community summaries---

%s
`

const driftLocalSystem = `You are a helpful assistant answering a focused sub-question using the data tables provided.

Respond with a JSON object in the following format:

{
  "response": "the answer to the sub-question, grounded in the tables, with data references as [Data: <dataset name> (record ids)]",
  "score": score_value,
  "follow_up_queries": [{"query": "a further sub-question, if one would help", "score": score_value}]
}

If the tables contain nothing relevant, return an empty response with score 0. Do not make anything up.

---Data tables---

%s
`

const driftReduceSystem = `You are a helpful assistant composing a final answer from a preliminary answer and the findings of several focused sub-queries.

Generate a response that answers the user's question, merging the findings below. Resolve contradictions in favor of higher-scored findings and preserve data references. If the findings contain nothing relevant, state that you found no relevant information. Do not make anything up.

---Findings---

%s
`

// DriftPrimerMessages builds the message sequence for the priming call.
func DriftPrimerMessages(summaryContext, query string) []types.Message {
	return []types.Message{
		nlp.NewSystemMessage(fmt.Sprintf(driftPrimerSystem, summaryContext)),
		nlp.NewUserMessage(query),
	}
}

// DriftLocalMessages builds the message sequence for one exploration call.
func DriftLocalMessages(contextData, subQuery string) []types.Message {
	return []types.Message{
		nlp.NewSystemMessage(fmt.Sprintf(driftLocalSystem, contextData)),
		nlp.NewUserMessage(subQuery),
	}
}

// DriftReduceMessages builds the message sequence for the final synthesis.
func DriftReduceMessages(findingsContext, conversationHistory, query string) []types.Message {
	messages := []types.Message{
		nlp.NewSystemMessage(fmt.Sprintf(driftReduceSystem, findingsContext)),
	}
	if conversationHistory != "" {
		messages = append(messages, nlp.NewSystemMessage("---Conversation history---\n\n"+conversationHistory))
	}
	return append(messages, nlp.NewUserMessage(query))
}

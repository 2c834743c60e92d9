package prompts

import (
	"fmt"

	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/types"
)

const globalMapSystem = `You are a helpful assistant responding to questions about data in the reports provided.

Identify the key points from the reports that are relevant to the user's question. Respond with a JSON object in the following format:

{"points": [{"description": "point 1", "score": score_value}, {"description": "point 2", "score": score_value}]}

Each point's score is an integer between 0 and 100 indicating how important the point is for answering the question. Ground every point strictly in the reports below; if none are relevant, return {"points": []}.

---Analyst reports---

%s
`

const globalReduceSystem = `You are a helpful assistant synthesizing a final answer from the ranked key points produced by multiple analysts.

Generate a response that answers the user's question, summarizing the analysts' points appropriate for the response length and format. Remove irrelevant points and merge duplicates. Preserve any data references included in the points, in the format [Data: Reports (record ids)].

If all analysts reported no relevant information, state that you found no relevant information to answer the question. Do not make anything up.

---Analyst points---

%s
`

// GeneralKnowledgeInstruction is appended to the reduce system prompt when
// the caller allows the model to mix in facts outside the dataset.
const GeneralKnowledgeInstruction = `
The response may also include relevant real-world knowledge outside the dataset, but it must be explicitly annotated with a verification tag [LLM: verify].`

// NoDataAnswer is the canonical response when the point set is empty and
// general knowledge is disabled.
const NoDataAnswer = "I found no relevant information to answer this question."

// GlobalMapMessages builds the message sequence for one map-phase call over
// a single batch of community reports.
func GlobalMapMessages(batchContext, query string) []types.Message {
	return []types.Message{
		nlp.NewSystemMessage(fmt.Sprintf(globalMapSystem, batchContext)),
		nlp.NewUserMessage(query),
	}
}

// GlobalReduceMessages builds the message sequence for the reduce call.
func GlobalReduceMessages(pointsContext, conversationHistory, query string, allowGeneralKnowledge bool) []types.Message {
	system := fmt.Sprintf(globalReduceSystem, pointsContext)
	if allowGeneralKnowledge {
		system += GeneralKnowledgeInstruction
	}
	messages := []types.Message{nlp.NewSystemMessage(system)}
	if conversationHistory != "" {
		messages = append(messages, nlp.NewSystemMessage("---Conversation history---\n\n"+conversationHistory))
	}
	return append(messages, nlp.NewUserMessage(query))
}

const relevanceSystem = `You are a relevance rater. Given a user question and a community report, rate how useful the report is for answering the question on a scale of 0 to 10. Respond with a single integer and nothing else.`

// RelevanceMessages builds the message sequence for scoring one community
// report against the query during dynamic report selection.
func RelevanceMessages(reportText, query string) []types.Message {
	return []types.Message{
		nlp.NewSystemMessage(relevanceSystem),
		nlp.NewUserMessage(fmt.Sprintf("Question: %s\n\nReport:\n%s", query, reportText)),
	}
}

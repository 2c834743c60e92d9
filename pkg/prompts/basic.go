package prompts

import (
	"fmt"

	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/types"
)

const basicSearchSystem = `You are a helpful assistant answering questions about the source texts provided.

Generate a response that answers the user's question, summarizing all information in the source texts appropriate for the response length and format. If you don't know the answer, just say so. Do not make anything up.

Points supported by data should list the source ids as follows:

"This is an example sentence supported by sources [Data: Sources (2, 5)]."

Do not list more than 5 source ids in a single reference; list the most relevant and add "+more" to indicate there are more.

---Source texts---

%s
`

// BasicSearchMessages builds the message sequence for a basic search call.
func BasicSearchMessages(contextData, conversationHistory, query string) []types.Message {
	messages := []types.Message{
		nlp.NewSystemMessage(fmt.Sprintf(basicSearchSystem, contextData)),
	}
	if conversationHistory != "" {
		messages = append(messages, nlp.NewSystemMessage("---Conversation history---\n\n"+conversationHistory))
	}
	return append(messages, nlp.NewUserMessage(query))
}

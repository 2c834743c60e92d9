package prompts

import (
	"fmt"

	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/types"
)

const localSearchSystem = `You are a helpful assistant answering questions about data in the tables provided.

Generate a response of the requested length and format that answers the user's question, summarizing all information in the input data tables appropriate for the response length and format, and incorporating any relevant general knowledge.

If you don't know the answer, say so. Do not make anything up.

Points supported by data should list their data references as follows:
"This is an example sentence supported by data references [Data: <dataset name> (record ids)]."

Do not list more than 5 record ids in a single reference. Instead, list the top 5 most relevant record ids and add "+more" to indicate that there are more.

---Data tables---

%s
`

// LocalSearchMessages builds the message sequence for a local (or basic)
// search generation call.
func LocalSearchMessages(contextData, conversationHistory, query string) []types.Message {
	system := fmt.Sprintf(localSearchSystem, contextData)
	messages := []types.Message{nlp.NewSystemMessage(system)}
	if conversationHistory != "" {
		messages = append(messages, nlp.NewSystemMessage("---Conversation history---\n\n"+conversationHistory))
	}
	return append(messages, nlp.NewUserMessage(query))
}

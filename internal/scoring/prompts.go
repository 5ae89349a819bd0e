package scoring

import "fmt"

// Categories every report must score.
var Categories = []string{"Pace", "Clarity", "Grammar", "Vocabulary", "Tone"}

// systemPrompt frames the model as the evaluator.
const systemPrompt = `You are an expert Communication Coach. You evaluate spoken practice conversations between a USER and an AI role-play partner (labelled "Coach"). You only ever grade the USER.`

// analysisPrompt is filled with the scenario and the transcript.
const analysisPrompt = `Analyze the following conversation transcript.

Context/Scenario: %s

Transcript:
"%s"

Evaluate the USER'S performance (not the AI's).
Provide a JSON response with:
- overallScore (0-100)
- metrics: Array of objects { category: string, score: number, details: string }
  (Categories must include: Pace, Clarity, Grammar, Vocabulary, Tone)
- improvementTips: Array of strings (3 specific, actionable tips based on mistakes in the transcript)

Respond ONLY with valid JSON.`

// BuildPrompt renders the analysis request for one session.
func BuildPrompt(transcript, persona string) string {
	if persona == "" {
		persona = "General conversation practice"
	}
	return fmt.Sprintf(analysisPrompt, persona, transcript)
}

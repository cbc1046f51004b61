package ai

import "fmt"

// DecisionSystemPrompt frames the step-by-step navigation task.
const DecisionSystemPrompt = `You are a web automation agent that can navigate and interact with any website to accomplish a user's goal.

You will receive:
1. A screenshot of the current page
2. The interactive elements of the page, each with an index
3. The user's goal
4. The current URL and page context

Choose the single best next action. Respond with exactly one JSON object, one of:

{"action": "click", "index": N, "reason": "why this element"}
{"action": "type", "index": N, "text": "text to enter", "reason": "why"}
{"action": "scroll", "direction": "down|up", "amount": 300-800, "reason": "why"}
{"action": "press_key", "key": "Enter|Tab|Escape|Space|End", "reason": "why"}
{"action": "navigate", "url": "https://example.com", "reason": "why"}
{"action": "extract", "reason": "the page holds what the user asked for"}
{"action": "done", "reason": "the goal is complete"}

Rules:
- Only use indices from the element list you were given.
- Search engines: type the query into the search box, then open the most relevant result.
- Shops: find the product, open its details.
- Profiles and about pages: extract once the requested facts are visible.
- Forms: fill fields in order, then submit.
- Do not extract from a search results page; open a detailed page first.
- Extract as soon as the information the user wants is visible.`

const decisionPrompt = `USER GOAL: %s

CURRENT CONTEXT:
- URL: %s
- Page Title: %s
- Website Type: %s
- Available Elements: %d

INTERACTIVE ELEMENTS:
%s

Based on the goal and the page, what is the best next action?`

// BuildDecisionPrompt renders the per-step user prompt.
func BuildDecisionPrompt(goal, url, title, websiteType string, elementCount int, elementsJSON string) string {
	return fmt.Sprintf(decisionPrompt, goal, url, title, websiteType, elementCount, elementsJSON)
}

const antiBotPrompt = `ANTI-BOT DETECTION TASK

You are looking at a screenshot of %s.

Decide whether the page is blocking automated access: a CAPTCHA, a Cloudflare or similar browser check, an access denied or rate limit page, or any other verification wall.

Respond with JSON:
{
  "is_anti_bot": true/false,
  "detection_type": "none|captcha|cloudflare|rate_limit|access_denied|verification",
  "confidence": 0.0-1.0,
  "description": "what you see",
  "can_solve": true/false,
  "suggested_action": "continue|solve_captcha|rotate_proxy|retry"
}`

// BuildAntiBotPrompt renders the classification prompt for url.
func BuildAntiBotPrompt(url string) string {
	return fmt.Sprintf(antiBotPrompt, url)
}

const captchaPrompt = `CAPTCHA SOLVING TASK

You are looking at a CAPTCHA challenge on: %s
CAPTCHA Type: %s

For text CAPTCHAs transcribe the characters exactly as shown.
For image selection CAPTCHAs list the matching grid positions.
For math CAPTCHAs give the result.

Respond with JSON:
{
  "can_solve": true/false,
  "solution_type": "text|selection|math|unknown",
  "solution": "the answer",
  "confidence": 0.0-1.0,
  "instructions": "what to do with the answer"
}`

// BuildCaptchaPrompt renders the solving prompt.
func BuildCaptchaPrompt(url, captchaType string) string {
	return fmt.Sprintf(captchaPrompt, url, captchaType)
}

const extractionPrompt = `You are a data extraction specialist. Extract the information on this page that serves the user's goal.

USER'S GOAL: %s
CURRENT URL: %s
PAGE TITLE: %s
WEBSITE TYPE: %s

GUIDANCE FOR THIS KIND OF PAGE:
%s

Only extract information that is visible and relevant to the goal. If the page does not hold what was asked for, say what it holds instead.

WEBPAGE CONTENT:
%s

Return a single well-structured JSON object with the extracted information.`

var extractionGuidance = map[string]string{
	"profile": `- Full name and title, current position and company
- Background, education, skills
- Public contact details and profile links
- Notable achievements or projects`,
	"company": `- Name, industry, mission and description
- Products or services, leadership
- Size, locations, headquarters and contact
- Recent news, funding, key metrics`,
	"product": `- Name and category, key features and specifications
- Pricing, availability and purchase options
- Reviews and ratings`,
	"news": `- Headline and summary, date and source
- Key facts, quotes and statistics
- Author and related topics`,
	"research": `- Main findings and conclusions
- Data, metrics and methodology
- Publication details and implications`,
	"search_results": `- The results most relevant to the goal, with title, link and snippet`,
	"general": `- The main facts relevant to the goal with supporting detail
- Sources and references when present`,
}

// BuildExtractionPrompt renders the structured-extraction prompt.
func BuildExtractionPrompt(goal, url, title, websiteType, content string) string {
	guidance, ok := extractionGuidance[websiteType]
	if !ok {
		guidance = extractionGuidance["general"]
	}
	return fmt.Sprintf(extractionPrompt, goal, url, title, websiteType, guidance, content)
}

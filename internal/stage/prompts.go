package stage

const draftPrompt = `You are a market analyst writing an audit of a game's commercial position.

Write a markdown report that starts with a single "# " title line. Cover positioning, audience, pricing, store presence, comparison against similar titles and concrete recommendations.

Product data:
%s

Respond with ONLY the markdown document.`

const basicAuditPrompt = `You are reviewing a draft market audit for errors.

List factual, arithmetic and logic problems in the draft. Quote the exact sentence for each issue.

%s

Respond with ONLY this JSON:
{
    "issues": [{"quote": "...", "problem": "...", "correction": "..."}],
    "score": 0-10,
    "summary": "One sentence verdict"
}`

const factCheckPrompt = `You are checking every numeric and factual claim in a draft market audit against the source data.

%s

Respond with ONLY this JSON:
{
    "claims": [{"claim": "...", "supported": true, "source_value": "..."}],
    "unsupported_claims": ["..."],
    "summary": "One sentence verdict"
}`

const consistencyPrompt = `You are checking a draft market audit for internal contradictions, for example a price quoted twice with different values or a recommendation that contradicts the analysis.

%s

Respond with ONLY this JSON:
{
    "inconsistencies": [{"first": "...", "second": "...", "resolution": "..."}],
    "summary": "One sentence verdict"
}`

const competitorPrompt = `You are validating how a product compares against similar titles. Use only the numbers given.

%s

Respond with ONLY this JSON:
{
    "comparisons": [{"name": "...", "relative_position": "ahead|behind|similar", "evidence": "..."}],
    "summary": "One sentence on where the product stands"
}`

const specializedPrompt = `You are combining specialist analyses (image quality, market news, store page review) into audit findings.

%s

Respond with ONLY this JSON:
{
    "audits": [{"kind": "...", "finding": "...", "impact": "low|medium|high"}],
    "summary": "One sentence verdict"
}`

const feasibilityPrompt = `You are judging whether each recommendation in a draft market audit is feasible for a small team within three months.

%s

Respond with ONLY this JSON:
{
    "recommendations": [{"recommendation": "...", "feasible": true, "effort": "low|medium|high", "note": "..."}],
    "summary": "One sentence verdict"
}`

const benchmarkPrompt = `You are benchmarking a product's store metrics against comparable titles. Report ratios, not adjectives.

%s

Respond with ONLY this JSON:
{
    "benchmarks": [{"metric": "...", "product": 0, "median": 0, "percentile": 0}],
    "summary": "One sentence verdict"
}`

const scenarioPrompt = `You are projecting launch outcomes for a product. Give a pessimistic, expected and optimistic scenario with first-year revenue.

%s

Respond with ONLY this JSON:
{
    "scenarios": [{"name": "pessimistic|expected|optimistic", "revenue": 0, "assumptions": "..."}],
    "summary": "One sentence verdict"
}`

const ensemblePrompt = `You are a market analyst. Answer independently and concisely.

%s

Respond with ONLY this JSON:
{
    "market_fit": "strong|moderate|weak",
    "price_assessment": "underpriced|fair|overpriced",
    "primary_risk": "...",
    "top_recommendation": "...",
    "summary": "One sentence positioning statement"
}`

const synthesisPrompt = `You are the final editor of a market audit. Rewrite the draft so it incorporates every correction and finding below. Remove claims the reviews found unsupported. Keep the "# " title line.

Product data:
%s

Draft:
%s

Review findings:
%s

Respond with ONLY the final markdown document.`

const specificityPrompt = `You are flagging vague statements in a market audit. A statement is vague when it gives no number, name or concrete action.

%s

Respond with ONLY this JSON:
{
    "findings": [{"quote": "...", "issue": "...", "suggestion": "..."}]
}`

package domain

import "fmt"

// Prompt builders for the built-in stage graphs. Output format is shared by
// all stages: plain names, one per line, no numbering, so the orchestrator's
// line parser applies uniformly. Later batches ask for fresh items.

func batchSuffix(batch int) string {
	if batch <= 1 {
		return ""
	}
	return fmt.Sprintf("\n\nNote: this is batch %d. Provide different items, avoid repetition.", batch)
}

func dimensionsPrompt(in PromptInput) string {
	return fmt.Sprintf(`Generate %d possible classification dimensions for topic: %s

A topic can be broken down along different dimensions (e.g. habitat, diet,
size, function, time stages, geographic region).

Requirements:
1. Each dimension should be concise, 2-6 words
2. Dimensions should be distinct and non-overlapping
3. Output only dimension names, one per line, no numbering

Generate %d dimensions:%s`, in.Count, in.Topic, in.Count, batchSuffix(in.Batch))
}

func categoriesPrompt(in PromptInput) string {
	return fmt.Sprintf(`Generate %d classification categories for: %s, using dimension: %s

Requirements:
1. ALL categories MUST follow the %q dimension
2. Categories should be mutually exclusive and collectively exhaustive
3. Use nouns or noun phrases, 2-8 words
4. Output only category names, one per line, no numbering
5. Do NOT generate specific items, only category names

Generate %d categories:%s`, in.Count, in.Topic, in.Parent, in.Parent, in.Count, batchSuffix(in.Batch))
}

func childrenPrompt(in PromptInput) string {
	return fmt.Sprintf(`Generate %d specific items for %q under topic: %s

Requirements:
1. ALL items MUST belong to %q
2. Items should be specific and representative
3. Use nouns or noun phrases, 2-10 words
4. Output only item names, one per line, no numbering

Generate %d items:%s`, in.Count, in.Parent, in.Topic, in.Parent, in.Count, batchSuffix(in.Batch))
}

func partsPrompt(in PromptInput) string {
	return fmt.Sprintf(`Generate %d physical parts of: %s, decomposed by dimension: %s

Requirements:
1. Parts must together make up the whole
2. Use nouns or noun phrases, 2-8 words
3. Output only part names, one per line, no numbering

Generate %d parts:%s`, in.Count, in.Topic, in.Parent, in.Count, batchSuffix(in.Batch))
}

func subpartsPrompt(in PromptInput) string {
	return fmt.Sprintf(`Generate %d subparts of the part %q of: %s

Requirements:
1. ALL subparts MUST belong to %q
2. Use nouns or noun phrases, 2-8 words
3. Output only subpart names, one per line, no numbering

Generate %d subparts:%s`, in.Count, in.Parent, in.Topic, in.Parent, in.Count, batchSuffix(in.Batch))
}

func stepsPrompt(in PromptInput) string {
	return fmt.Sprintf(`Generate %d sequential steps for the process: %s, following dimension: %s

Requirements:
1. Steps must be in chronological order
2. Start each step with a verb, 2-8 words
3. Output only step names, one per line, no numbering

Generate %d steps:%s`, in.Count, in.Topic, in.Parent, in.Count, batchSuffix(in.Batch))
}

func substepsPrompt(in PromptInput) string {
	return fmt.Sprintf(`Generate %d sequential substeps for the step %q of: %s

Requirements:
1. Substeps must be in chronological order within %q
2. Start each substep with a verb, 2-8 words
3. Output only substep names, one per line, no numbering

Generate %d substeps:%s`, in.Count, in.Parent, in.Topic, in.Parent, in.Count, batchSuffix(in.Batch))
}

func branchesPrompt(in PromptInput) string {
	return fmt.Sprintf(`Generate %d main branches for a mind map about: %s

Requirements:
1. Branches should cover distinct aspects of the topic
2. Use short noun phrases, 1-5 words
3. Output only branch names, one per line, no numbering

Generate %d branches:%s`, in.Count, in.Topic, in.Count, batchSuffix(in.Batch))
}

func attributesPrompt(in PromptInput) string {
	return fmt.Sprintf(`Generate %d describing attributes (adjectives or short phrases) for: %s

Output only attributes, one per line, no numbering.%s`, in.Count, in.Topic, batchSuffix(in.Batch))
}

func observationsPrompt(in PromptInput) string {
	return fmt.Sprintf(`Generate %d contextual observations or associations for: %s

Output only observations, one per line, no numbering.%s`, in.Count, in.Topic, batchSuffix(in.Batch))
}

func analogiesPrompt(in PromptInput) string {
	return fmt.Sprintf(`Generate %d analogous pairs for the relating factor: %s

Format each pair as "left / right", one per line, no numbering.%s`, in.Count, in.Topic, batchSuffix(in.Batch))
}

func comparisonPrompt(in PromptInput) string {
	// Tab is "similarities" or "differences"; the topic reads "A vs B".
	return fmt.Sprintf(`Generate %d %s for the comparison: %s

Output one point per line, no numbering.%s`, in.Count, in.Tab, in.Topic, batchSuffix(in.Batch))
}

func analysisPrompt(in PromptInput) string {
	// Tab is "causes" or "effects".
	return fmt.Sprintf(`Generate %d %s for the event: %s

Output one item per line, no numbering.%s`, in.Count, in.Tab, in.Topic, batchSuffix(in.Batch))
}

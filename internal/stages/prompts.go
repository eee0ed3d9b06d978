package stages

// transcriptionPrompt demands an honest refusal on silence; the speech
// model otherwise pads silent audio with invented content.
const transcriptionPrompt = `Transcribe this audio recording verbatim.
Rules:
- Output only the spoken words, no commentary and no speaker labels.
- If the audio is silent or contains no intelligible speech, output exactly: [untranscribable]
- Never invent, guess or embellish content that is not clearly audible.`

// timestampsPrompt asks for a strict JSON array; the parser cascade in
// timestamps.go copes with the ways models ignore this.
const timestampsPrompt = `Segment the following transcript into topical sections.
Respond with ONLY a JSON array, no prose and no markdown, where each element is:
{"timestamp": "MM:SS", "text": "short section title"}
The first element must start at "00:00". Transcript:

`

// summaryPrompt produces a paragraph-style summary of roughly a fifth of
// the source length.
const summaryPrompt = `Summarize the following transcript in flowing paragraphs.
The summary should be about 20% of the source length. Do not add facts that
are not in the transcript. Do not use bullet points or headings.

Transcript:

`

// articlePrompt produces the final Markdown article.
const articlePrompt = `Write a well-structured Markdown article based on the
transcript and summary below. Use a top-level title and section headings.
Target length 2000-3000 characters. Stay faithful to the source; do not add
outside facts.

Summary:

%s

Transcript:

%s`

package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

// sceneMarkers are tried in priority order; the first pattern that splits a
// chapter into two or more segments wins.
var sceneMarkers = []struct {
	re    *regexp.Regexp
	label string
}{
	{regexp.MustCompile(`(?mi)^\s*scene\s+\d+\s*:?[^\n]*$`), "scene header"},
	{regexp.MustCompile(`(?m)^\s*\*\s*\*\s*\*[\s*]*$`), "asterisk rule"},
	{regexp.MustCompile(`(?m)^\s*---+\s*$`), "dash rule"},
	{regexp.MustCompile(`(?m)^\s*###+\s*$`), "hash rule"},
	{regexp.MustCompile(`(?mi)^\s*(?:chapter|part)\s+\d+\s*:?[^\n]*$`), "nested chapter marker"},
}

// ChunkChapter splits chapter text along recognized scene markers and chunks
// each scene independently. When no marker is found the whole chapter is
// treated as a single scene.
func (c *Chunker) ChunkChapter(content string, chapterNumber int, opts Options) []Chunk {
	title := opts.Title
	if title == "" {
		title = fmt.Sprintf("Chapter %d", chapterNumber)
	}

	scenes := splitScenes(content)
	if len(scenes) == 0 {
		return nil
	}

	var chunks []Chunk
	for i, scene := range scenes {
		sceneNumber := i + 1
		metadata := cloneMetadata(opts.Metadata)
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["chapter_number"] = chapterNumber
		metadata["scene_number"] = sceneNumber

		sceneOpts := Options{
			Type:          TypeScene,
			Title:         fmt.Sprintf("%s - Scene %d", title, sceneNumber),
			Metadata:      metadata,
			ChapterNumber: chapterNumber,
			SceneNumber:   sceneNumber,
		}
		chunks = append(chunks, c.ChunkText(scene, sceneOpts)...)
	}
	return chunks
}

// splitScenes returns the chapter's scene segments, or the whole chapter as a
// single segment when no marker pattern matches at least twice.
func splitScenes(content string) []string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}
	for _, marker := range sceneMarkers {
		parts := marker.re.Split(trimmed, -1)
		segments := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				segments = append(segments, p)
			}
		}
		if len(segments) >= 2 {
			return segments
		}
	}
	return []string{trimmed}
}

// characterSections is the fixed vocabulary of recognized character-sheet
// section headers.
var characterSections = []string{
	"Appearance",
	"Personality",
	"Background",
	"Motivation",
	"Goals",
	"Relationships",
	"Skills",
	"History",
}

var sectionHeaderPattern = regexp.MustCompile(`^\s*(?:#{1,6}\s*)?([A-Za-z]+)\s*:?\s*$`)

// ChunkCharacterSheet partitions a character sheet into labeled sections and
// chunks each one with the section name as subtype. Leading text before the
// first recognized header lands in an implicit "General" section.
func (c *Chunker) ChunkCharacterSheet(content, characterName string, metadata map[string]any) []Chunk {
	sections := splitSections(content)

	var chunks []Chunk
	for _, sec := range sections {
		md := cloneMetadata(metadata)
		if md == nil {
			md = map[string]any{}
		}
		md["character_name"] = characterName
		md["section"] = strings.ToLower(sec.name)

		opts := Options{
			Type:     TypeCharacter,
			Subtype:  strings.ToLower(sec.name),
			Title:    characterName + " - " + sec.name,
			Metadata: md,
		}
		chunks = append(chunks, c.ChunkText(sec.body, opts)...)
	}
	return chunks
}

// ChunkSettingDescription chunks a location description as a single setting
// section.
func (c *Chunker) ChunkSettingDescription(content, locationName string, metadata map[string]any) []Chunk {
	md := cloneMetadata(metadata)
	if md == nil {
		md = map[string]any{}
	}
	md["location_name"] = locationName

	opts := Options{
		Type:     TypeSetting,
		Subtype:  "description",
		Title:    locationName,
		Metadata: md,
	}
	return c.ChunkText(content, opts)
}

type section struct {
	name string
	body string
}

// splitSections scans line by line: a line matching a recognized header starts
// a new section and is consumed; everything else accumulates under the current
// section.
func splitSections(content string) []section {
	current := "General"
	var body []string
	var sections []section

	flush := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if text != "" {
			sections = append(sections, section{name: current, body: text})
		}
		body = body[:0]
	}

	for _, line := range strings.Split(content, "\n") {
		if name, ok := matchSectionHeader(line); ok {
			flush()
			current = name
			continue
		}
		body = append(body, line)
	}
	flush()
	return sections
}

func matchSectionHeader(line string) (string, bool) {
	m := sectionHeaderPattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	for _, name := range characterSections {
		if strings.EqualFold(m[1], name) {
			return name, true
		}
	}
	return "", false
}

package llm

import (
	"sort"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
)

const maxMemberText = 280

// Member is one report as shown to the model
type Member struct {
	Time   string       `json:"time"`
	Source model.Source `json:"source"`
	Text   string       `json:"text"`
	URL    string       `json:"url,omitempty"`
	Score  float64      `json:"score,omitempty"`
}

// WindowInput is a matched window with the reports on each side
type WindowInput struct {
	Label     string   `json:"label"`
	Official  []Member `json:"official"`
	Community []Member `json:"community"`
}

// ClusterInput is one temporal cluster with its members in time order
type ClusterInput struct {
	ID      int      `json:"id"`
	Members []Member `json:"members"`
}

// Input is the stable, serializable grouping handed to the summarizer
type Input struct {
	Provider    model.Provider    `json:"provider"`
	Granularity model.Granularity `json:"granularity"`
	Best        *Member           `json:"best,omitempty"`
	Windows     []WindowInput     `json:"windows,omitempty"`
	Clusters    []ClusterInput    `json:"clusters,omitempty"`
}

// BuildInput groups a provider result for summarization. Noise is left out of clusters.
func BuildInput(res *model.ProviderResult) Input {
	in := Input{Provider: res.Provider, Granularity: model.GranularityNone}

	if best := res.Score.Best; best != nil {
		m := member(best.Report)
		m.Score = best.Combined
		in.Best = &m
	}

	if res.Match != nil {
		in.Granularity = res.Match.Granularity
		for _, w := range res.Match.Windows {
			in.Windows = append(in.Windows, WindowInput{
				Label:     w.Label,
				Official:  members(w.A),
				Community: members(w.B),
			})
		}
	}

	byID := make(map[int][]model.Report)
	for _, a := range res.Evidence {
		if a.ClusterID == model.NoiseCluster {
			continue
		}
		byID[a.ClusterID] = append(byID[a.ClusterID], a.Report)
	}
	ids := make([]int, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		reports := byID[id]
		sort.SliceStable(reports, func(i, j int) bool { return reports[i].Timestamp < reports[j].Timestamp })
		in.Clusters = append(in.Clusters, ClusterInput{ID: id, Members: members(reports)})
	}
	return in
}

// URLs lists every distinct report URL in the input, in first-seen order
func (in Input) URLs() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(ms []Member) {
		for _, m := range ms {
			if m.URL != "" && !seen[m.URL] {
				seen[m.URL] = true
				out = append(out, m.URL)
			}
		}
	}
	if in.Best != nil {
		add([]Member{*in.Best})
	}
	for _, w := range in.Windows {
		add(w.Official)
		add(w.Community)
	}
	for _, c := range in.Clusters {
		add(c.Members)
	}
	return out
}

func members(reports []model.Report) []Member {
	out := make([]Member, len(reports))
	for i, r := range reports {
		out[i] = member(r)
	}
	return out
}

func member(r model.Report) Member {
	text := r.Title
	if text == "" {
		text = r.Text
	} else if r.Text != "" {
		text += ": " + r.Text
	}
	if runes := []rune(text); len(runes) > maxMemberText {
		text = string(runes[:maxMemberText]) + "…"
	}
	return Member{
		Time:   r.Time().Format(time.RFC3339),
		Source: r.Source,
		Text:   text,
		URL:    r.URL,
	}
}

// Package visualize renders two supplemented diagnostic views with
// go-echarts: a session's message chain as a force-directed graph, and
// per-session chunk counts as a bar chart, grounded on the teacher's
// knowledge-tree GraphVisualizer (same charts/opts/components wiring,
// generalized from a Node tree to a message chain).
package visualize

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"convomem/chain"
	"convomem/model"
)

// ChainGraph renders sessionID's message chain: one node per message,
// colored by role, linked by parentMessageId edges. Validator issues
// (if any) are annotated in the subtitle rather than hidden.
func ChainGraph(sessionID string, messages []*model.Message, report *chain.Report) *charts.Graph {
	graph := charts.NewGraph()

	subtitle := fmt.Sprintf("%d messages", len(messages))
	if report != nil && !report.Valid {
		subtitle = fmt.Sprintf("%s - %d issues found", subtitle, len(report.Issues))
	}

	graph.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Conversation chain: %s", sessionID),
			Subtitle: subtitle,
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithInitializationOpts(opts.Initialization{Width: "1100px", Height: "700px"}),
	)

	if len(messages) == 0 {
		return graph
	}

	byID := make(map[string]*model.Message, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
	}

	nodes := make([]opts.GraphNode, 0, len(messages))
	links := make([]opts.GraphLink, 0, len(messages))
	for _, m := range sortByTimestamp(messages) {
		nodes = append(nodes, opts.GraphNode{
			Name:       nodeLabel(m),
			Value:      1,
			Category:   roleCategory(m.Role),
			SymbolSize: 28,
			ItemStyle:  roleStyle(m.Role),
		})
		if m.ParentMessageID != "" {
			if parent, ok := byID[m.ParentMessageID]; ok {
				links = append(links, opts.GraphLink{
					Source: nodeLabel(parent),
					Target: nodeLabel(m),
					Value:  1,
					LineStyle: &opts.LineStyle{
						Width:     2,
						Curveness: 0.15,
					},
				})
			}
		}
	}

	graph.AddSeries(
		"conversation-chain",
		nodes,
		links,
		charts.WithGraphChartOpts(opts.GraphChart{
			Layout:             "force",
			Roam:               opts.Bool(true),
			FocusNodeAdjacency: opts.Bool(true),
			Force: &opts.GraphForce{
				Repulsion:  900,
				Gravity:    0.15,
				EdgeLength: 150,
			},
			Categories: roleCategories(),
		}),
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true)}),
	)

	return graph
}

// VectorStats renders per-session chunk counts as a bar chart, for the
// supplemented /vector/statistics/graph view.
func VectorStats(countsBySession map[string]int) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Indexed chunks by session",
			Subtitle: fmt.Sprintf("%d sessions", len(countsBySession)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithInitializationOpts(opts.Initialization{Width: "1000px", Height: "600px"}),
	)

	sessionIDs := make([]string, 0, len(countsBySession))
	for id := range countsBySession {
		sessionIDs = append(sessionIDs, id)
	}
	sort.Strings(sessionIDs)

	items := make([]opts.BarData, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		items = append(items, opts.BarData{Value: countsBySession[id]})
	}

	bar.SetXAxis(sessionIDs).AddSeries("chunks", items)
	return bar
}

// Render writes a chart component's HTML page to w, mirroring the
// teacher's components.Page wiring without the knowledge-tree modal
// overlay (there is no per-node detail payload for these two views).
func Render(w io.Writer, chart components.Charter) error {
	page := components.NewPage()
	page.AddCharts(chart)
	return page.Render(w)
}

func nodeLabel(m *model.Message) string {
	return fmt.Sprintf("%s:%s", m.Role, shortID(m.ID))
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func sortByTimestamp(messages []*model.Message) []*model.Message {
	sorted := make([]*model.Message, len(messages))
	copy(sorted, messages)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

func roleCategory(role model.Role) int {
	if role == model.RoleUser {
		return 0
	}
	return 1
}

func roleCategories() []*opts.GraphCategory {
	return []*opts.GraphCategory{
		{Name: "User", ItemStyle: &opts.ItemStyle{Color: "#5470c6"}},
		{Name: "Assistant", ItemStyle: &opts.ItemStyle{Color: "#91cc75"}},
	}
}

func roleStyle(role model.Role) *opts.ItemStyle {
	color := "#91cc75"
	if role == model.RoleUser {
		color = "#5470c6"
	}
	return &opts.ItemStyle{Color: color, BorderColor: "#fff", BorderWidth: 2}
}

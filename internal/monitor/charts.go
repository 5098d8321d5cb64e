package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/netviz/internal/scene"
	"github.com/banshee-data/netviz/internal/scheduler"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

type channelPlane struct {
	desc   scene.LayerDescriptor
	values []float64
}

// loadValues fetches normalized values for layer and channel from the tick
// loop and writes an error response on failure.
func (s *Server) loadValues(w http.ResponseWriter, r *http.Request, layer string, channel int) (channelPlane, bool) {
	var out channelPlane
	var err error
	if !s.do(w, r, func(v *scheduler.View) {
		d, ok := v.Model.Descriptor(layer)
		if !ok {
			err = &scene.LayerError{Layer: layer, Op: "values", Err: scene.ErrUnknownLayer}
			return
		}
		out.desc = d
		out.values, err = v.Model.NormalizedValues(layer, channel)
	}) {
		return out, false
	}
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, scene.ErrUnknownLayer) {
			status = http.StatusNotFound
		}
		writeJSONError(w, status, err.Error())
		return out, false
	}
	return out, true
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	layer := r.URL.Query().Get("layer")
	if layer == "" {
		writeJSONError(w, http.StatusBadRequest, "missing layer")
		return
	}
	channel, err := intParam(r, "channel", 0)
	if err != nil || channel < 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid channel")
		return
	}
	plane, ok := s.loadValues(w, r, layer, channel)
	if !ok {
		return
	}

	sh := plane.desc.Shape
	xs := make([]string, sh.Width)
	for x := range xs {
		xs[x] = strconv.Itoa(x)
	}
	ys := make([]string, sh.Height)
	for y := range ys {
		ys[y] = strconv.Itoa(y)
	}
	data := make([]opts.HeatMapData, 0, len(plane.values))
	for i, v := range plane.values {
		data = append(data, opts.HeatMapData{Value: [3]interface{}{i % sh.Width, i / sh.Width, v}})
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Layer " + layer, Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("%s (%s)", layer, plane.desc.Type), Subtitle: fmt.Sprintf("channel %d of %d, %dx%d", channel, sh.Channels, sh.Height, sh.Width)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "col", SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: ys, Name: "row", SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.SetXAxis(xs).AddSeries("normalized", data)

	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	layer := r.URL.Query().Get("layer")
	if layer == "" {
		writeJSONError(w, http.StatusBadRequest, "missing layer")
		return
	}
	bins, err := intParam(r, "bins", 20)
	if err != nil || bins < 1 || bins > 1000 {
		writeJSONError(w, http.StatusBadRequest, "bins must be between 1 and 1000")
		return
	}
	channel, err := intParam(r, "channel", -1)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid channel")
		return
	}
	plane, ok := s.loadValues(w, r, layer, channel)
	if !ok {
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s normalized activations", layer)
	p.X.Label.Text = "normalized value"
	p.Y.Label.Text = "neurons"
	p.X.Min, p.X.Max = 0, 1

	h, err := plotter.NewHist(plotter.Values(plane.values), bins)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build histogram: %v", err))
		return
	}
	p.Add(h)

	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to encode png: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

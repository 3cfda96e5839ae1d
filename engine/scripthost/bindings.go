package scripthost

import (
	"context"

	"github.com/dop251/goja"
	"github.com/publictransport/ptengine/engine/helper"
	"github.com/publictransport/ptengine/engine/network"
	"github.com/publictransport/ptengine/engine/provider"
	"github.com/publictransport/ptengine/engine/resultsink"
	"github.com/publictransport/ptengine/engine/storage"
	"github.com/publictransport/ptengine/engine/timetable"
)

// helperBinding exposes engine/helper's pure functions to the script
// engine under the snake_case names of §4.4, via snakeCaseMapper.
type helperBinding struct{}

func (helperBinding) Trim(s string) string               { return helper.Trim(s) }
func (helperBinding) DecodeHtmlEntities(s string) string  { return helper.DecodeHTMLEntities(s) }
func (helperBinding) StripTags(s string) string           { return helper.StripTags(s) }
func (helperBinding) CamelCase(s string) string           { return helper.CamelCase(s) }
func (helperBinding) ExtractBlock(s, begin, end string) string {
	return helper.ExtractBlock(s, begin, end)
}

func (helperBinding) MatchTime(s, format string) map[string]any {
	mt := helper.MatchTime(s, format)
	if mt.Error {
		return map[string]any{"error": true}
	}
	return map[string]any{"hour": mt.Hour, "minute": mt.Minute}
}

func (helperBinding) MatchDate(s, format string) map[string]any {
	d, ok := helper.MatchDate(s, format)
	if !ok {
		return map[string]any{"error": true}
	}
	return map[string]any{"year": d.Year(), "month": int(d.Month()), "day": d.Day()}
}

func (helperBinding) FormatTime(hour, minute int, layout string) string {
	return helper.FormatTime(hour, minute, layout)
}
func (helperBinding) FormatDate(year, month, day int, layout string) string {
	return helper.FormatDate(year, month, day, layout)
}
func (helperBinding) Duration(t1, t2, layout string) int {
	return helper.Duration(t1, t2, layout)
}
func (helperBinding) AddMinsToTime(t string, mins int, layout string) string {
	return helper.AddMinsToTime(t, mins, layout)
}
func (helperBinding) AddDaysToDate(d string, days int, layout string) string {
	return helper.AddDaysToDate(d, days, layout)
}
func (helperBinding) SplitSkipEmptyParts(s, sep string) []string {
	return helper.SplitSkipEmptyParts(s, sep)
}

func (helperBinding) FindHtmlTags(s, tag string, opts map[string]any) []map[string]any {
	return tagsToJS(helper.FindHTMLTags(s, tag, toFindOptions(opts)))
}

func (helperBinding) FindFirstHtmlTag(s, tag string, opts map[string]any) map[string]any {
	t, ok := helper.FindFirstHTMLTag(s, tag, toFindOptions(opts))
	if !ok {
		return nil
	}
	return tagToJS(t)
}

func (helperBinding) FindNamedHtmlTags(s, tag string, opts map[string]any) map[string]any {
	res := helper.FindNamedHTMLTags(s, tag, toFindOptions(opts))
	out := make(map[string]any, len(res.Tags))
	for name, t := range res.Tags {
		out[name] = tagToJS(t)
	}
	return out
}

func toFindOptions(opts map[string]any) helper.FindOptions {
	var fo helper.FindOptions
	if opts == nil {
		return fo
	}
	if attrs, ok := opts["attributes"].(map[string]any); ok {
		fo.Attributes = make(map[string]string, len(attrs))
		for k, v := range attrs {
			if s, ok := v.(string); ok {
				fo.Attributes[k] = s
			}
		}
	}
	if v, ok := opts["maxCount"].(int64); ok {
		fo.MaxCount = int(v)
	}
	if v, ok := opts["noContent"].(bool); ok {
		fo.NoContent = v
	}
	if v, ok := opts["noNesting"].(bool); ok {
		fo.NoNesting = v
	}
	if v, ok := opts["contentsRegExp"].(string); ok {
		fo.ContentsRegExp = v
	}
	if v, ok := opts["position"].(int64); ok {
		fo.Position = int(v)
	}
	if v, ok := opts["ambiguousNameResolution"].(string); ok {
		fo.AmbiguousNameRes = v
	}
	if np, ok := opts["namePosition"].(map[string]any); ok {
		pos := &helper.NamePosition{}
		if t, ok := np["type"].(string); ok {
			pos.Type = t
		}
		if n, ok := np["name"].(string); ok {
			pos.Name = n
		}
		if re, ok := np["regExp"].(string); ok {
			pos.RegExp = re
		}
		fo.NamePosition = pos
	}
	return fo
}

func tagToJS(t helper.TagMatch) map[string]any {
	attrs := make(map[string]any, len(t.Attributes))
	for k, v := range t.Attributes {
		attrs[k] = v.Value
	}
	return map[string]any{
		"contents":    t.Contents,
		"position":    t.Position,
		"endPosition": t.EndPosition,
		"attributes":  attrs,
		"name":        t.Name,
	}
}

func tagsToJS(tags []helper.TagMatch) []map[string]any {
	out := make([]map[string]any, len(tags))
	for i, t := range tags {
		out[i] = tagToJS(t)
	}
	return out
}

// networkBinding adapts the context-taking engine/network.Client to the
// parameterless-from-script surface of §4.5.
type networkBinding struct {
	client *network.Client
	ctx    context.Context
}

func (n *networkBinding) GetSync(url string, timeoutMs int) string {
	text, _ := n.client.GetSync(n.ctx, url, timeoutMs)
	return text
}

func (n *networkBinding) CreateRequest(url string) *network.Request {
	return n.client.CreateRequest(url)
}

func (n *networkBinding) Get(req *network.Request) error  { return n.client.Get(n.ctx, req) }
func (n *networkBinding) Head(req *network.Request) error { return n.client.Head(n.ctx, req) }
func (n *networkBinding) Post(req *network.Request) error { return n.client.Post(n.ctx, req) }

func (n *networkBinding) AbortAllRequests()        { n.client.AbortAllRequests() }
func (n *networkBinding) HasRunningRequests() bool { return n.client.HasRunningRequests() }
func (n *networkBinding) RunningRequestCount() int  { return n.client.RunningRequestCount() }

// resultBinding adapts engine/resultsink.Sink's AddData (map[Info]any)
// to the raw map[string]any a script's add_data call supplies.
type resultBinding struct {
	sink *resultsink.Sink
}

func (r *resultBinding) AddData(data map[string]any) { r.sink.AddData(data) }
func (r *resultBinding) Publish()                    { r.sink.Publish() }

func (r *resultBinding) EnableFeature(name string, on bool) {
	r.sink.EnableFeature(resultsink.Feature(name), on)
}
func (r *resultBinding) IsFeatureEnabled(name string) bool {
	return r.sink.IsFeatureEnabled(resultsink.Feature(name))
}
func (r *resultBinding) GiveHint(name string, on bool) {
	r.sink.GiveHint(resultsink.Hint(name), on)
}
func (r *resultBinding) IsHintGiven(name string) bool {
	return r.sink.IsHintGiven(resultsink.Hint(name))
}
func (r *resultBinding) Count() int               { return r.sink.Count() }
func (r *resultBinding) Clear()                   { r.sink.Clear() }

// storageBinding is bound using goja's FunctionCall signature for
// write/read so a single script-visible name can accept either
// (name, value) or (map) per §4.3's overloaded contract.
type storageBinding struct {
	store *storage.Storage
	vm    *goja.Runtime
}

func (s *storageBinding) object() map[string]any {
	return map[string]any{
		"write":                 s.write,
		"read":                  s.read,
		"remove":                s.store.Remove,
		"clear":                 s.store.Clear,
		"has_data":              s.store.HasData,
		"write_persistent":      s.writePersistent,
		"read_persistent":       s.readPersistent,
		"has_persistent_data":   s.store.HasPersistentData,
		"remove_persistent":     s.store.RemovePersistent,
		"clear_persistent":      s.store.ClearPersistent,
		"lifetime":              s.store.Lifetime,
		"check_lifetime":        s.store.CheckLifetime,
	}
}

func (s *storageBinding) write(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 1 {
		if m, ok := call.Argument(0).Export().(map[string]any); ok {
			for k, v := range m {
				s.store.Write(k, storage.Value(v))
			}
		}
		return goja.Undefined()
	}
	name := call.Argument(0).String()
	s.store.Write(name, storage.Value(call.Argument(1).Export()))
	return goja.Undefined()
}

func (s *storageBinding) read(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 0 {
		return s.vm.ToValue(s.store.ReadAll())
	}
	name := call.Argument(0).String()
	var def storage.Value
	if len(call.Arguments) > 1 {
		def = storage.Value(call.Argument(1).Export())
	}
	return s.vm.ToValue(s.store.Read(name, def))
}

func (s *storageBinding) writePersistent(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	value := storage.Value(call.Argument(1).Export())
	lifetime := 7
	if len(call.Arguments) > 2 {
		lifetime = int(call.Argument(2).ToInteger())
	}
	_ = s.store.WritePersistent(name, value, lifetime)
	return goja.Undefined()
}

func (s *storageBinding) readPersistent(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	var def storage.Value
	if len(call.Arguments) > 1 {
		def = storage.Value(call.Argument(1).Export())
	}
	return s.vm.ToValue(s.store.ReadPersistent(name, def))
}

// manifestView is the read-only "provider" global of §4.7 step 3: a
// serializable snapshot of C13, never mutable from script.
func manifestView(m *provider.Metadata) map[string]any {
	return map[string]any{
		"id":                  m.ID,
		"name":                m.LocalizedName("en"),
		"url":                 m.URL,
		"shortUrl":            m.ShortURL,
		"country":             m.Country,
		"author":              m.Author,
		"shortAuthor":         m.ShortAuthor,
		"email":               m.Email,
		"cities":              m.Cities,
		"onlyUseCitiesInList": m.OnlyUseCitiesInList,
		"defaultVehicleType":  m.DefaultVehicleType.String(),
		"fallbackCharset":     m.FallbackCharset,
		"minFetchWaitSec":     m.MinFetchWaitSec,
	}
}

// enumBindings returns the read-only "enum"/"PublicTransport" metaobjects
// of §4.7 step 5, giving scripts symbolic access to the vehicle-type and
// result-feature/hint enumerations.
func enumBindings() (enum map[string]any, publicTransport map[string]any) {
	enum = map[string]any{
		"AutoPublish":               string(resultsink.FeatureAutoPublish),
		"AutoDecodeHtmlEntities":    string(resultsink.FeatureAutoDecodeHtmlEntities),
		"AutoRemoveCityFromStopNames": string(resultsink.FeatureAutoRemoveCityFromStopNames),
		"DatesNeedAdjustment":       string(resultsink.HintDatesNeedAdjustment),
		"NoDelaysForStop":           string(resultsink.HintNoDelaysForStop),
		"CityNamesAreLeft":          string(resultsink.HintCityNamesAreLeft),
		"CityNamesAreRight":         string(resultsink.HintCityNamesAreRight),
	}
	publicTransport = map[string]any{
		"StopName": "StopName", "Target": "Target", "TypeOfVehicle": "TypeOfVehicle",
	}
	for vt := timetable.Unknown; vt <= timetable.Feet; vt++ {
		publicTransport[vt.String()] = vt.String()
	}
	return enum, publicTransport
}

package render

import "strings"

// Parameter and variable names are matched to skeleton roles by convention.

func isEntityName(name string) bool {
	n := strings.ToLower(name)
	for _, w := range []string{"tick", "sym", "stock", "asset", "instrument"} {
		if strings.Contains(n, w) {
			return true
		}
	}
	return n == "name" || n == "code" || n == "t" || n == "s"
}

func isStartName(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "start") || strings.Contains(n, "begin") || n == "since" || n == "from_date"
}

func isEndName(name string) bool {
	n := strings.ToLower(name)
	return n == "end" || strings.HasPrefix(n, "end_") || strings.HasSuffix(n, "_end") ||
		strings.Contains(n, "stop") || strings.Contains(n, "until") || n == "to_date"
}

func isConfigName(name string) bool {
	switch strings.ToLower(name) {
	case "params", "param", "cfg", "config", "conf", "settings", "p", "opts", "options":
		return true
	}
	return false
}

func isFrameName(name string) bool {
	switch strings.ToLower(name) {
	case "df", "data", "frame", "bars", "prices", "ohlc", "ohlcv", "hist", "history", "daily", "d", "dfx":
		return true
	}
	return strings.HasPrefix(strings.ToLower(name), "df_")
}

func isEntityIterable(text string) bool {
	t := strings.ToLower(text)
	for _, w := range []string{"tick", "sym", "universe", "stock", "watchlist", "names"} {
		if strings.Contains(t, w) {
			return true
		}
	}
	return false
}

// argBinding maps a parameter name to a skeleton expression. Position is the
// index among required parameters; fallback supplies positional defaults.
type argBinding struct {
	Ticker   string
	Start    string
	End      string
	Frame    string
	Params   string
	Fallback []string
}

func (b argBinding) expr(name string, position int) (string, bool) {
	switch {
	case isConfigName(name):
		return b.Params, b.Params != ""
	case isEntityName(name):
		return b.Ticker, b.Ticker != ""
	case isStartName(name):
		return b.Start, b.Start != ""
	case isEndName(name):
		return b.End, b.End != ""
	case isFrameName(name):
		return b.Frame, b.Frame != ""
	}
	if position < len(b.Fallback) && b.Fallback[position] != "" {
		return b.Fallback[position], true
	}
	return "", false
}

// callArgs builds the argument list for calling a preserved function from the
// skeleton. ok is false when a required parameter has no binding.
func callArgs(required []string, rewritten bool, b argBinding) (string, bool) {
	var args []string
	if rewritten {
		args = append(args, b.Params)
	}
	for i, name := range required {
		e, ok := b.expr(name, i)
		if !ok {
			return "", false
		}
		args = append(args, e)
	}
	return strings.Join(args, ", "), true
}

package render

// scannerTemplate is the fixed five-stage skeleton every strategy renders
// into: ingest, cheap filter, feature compute, detect, format.
const scannerTemplate = `"""{{.Title}}

Generated by scanforge ({{.Strategy}}).
{{- if .Description}}

{{.Description}}
{{- end}}
{{- if .Conditions}}

Entry conditions:
{{- range .Conditions}}
    - {{.}}
{{- end}}
{{- end}}
"""
{{- range .Futures}}
{{.}}
{{- end}}
import threading
from concurrent.futures import ThreadPoolExecutor, as_completed

import pandas as pd
{{- range .ExtraImports}}
{{.}}
{{- end}}
{{- if .Preserved}}


# --- preserved source ---

{{.Preserved}}
{{- end}}
{{- if .PatternColumns}}


PATTERN_COLUMNS = (
{{- range .PatternColumns}}
    {{pyrepr .}},
{{- end}}
)
{{- end}}


class {{.ClassName}}:
    """{{.ClassDoc}}"""

    DEFAULT_PARAMS = {
{{- range .Params}}
        {{pyrepr .Name}}: {{.Value}},
{{- end}}
    }
    PRICE_COLUMN = {{pyrepr .Columns.Price}}
    VOLUME_COLUMN = {{pyrepr .Columns.Volume}}
    HISTORY_DAYS = {{.HistoryDays}}
    MAX_WORKERS = {{.MaxWorkers}}

    def __init__(self, tickers, start_date, end_date, params=None, loader=None, max_workers=None):
        self.tickers = list(tickers)
        self.params = dict(self.DEFAULT_PARAMS)
        if params:
            self.params.update(params)
        self.loader = loader
        self.max_workers = max_workers or self.MAX_WORKERS
        self.window_start = pd.Timestamp(start_date)
        self.window_end = pd.Timestamp(end_date)
        self.window_stop = self.window_end + pd.Timedelta(days=1)
        self.history_start = self.window_start - pd.Timedelta(days=self.HISTORY_DAYS)
        self.skipped = {}
        self._lock = threading.Lock()

    def _in_window(self, dates):
        dates = pd.to_datetime(dates)
        return (dates >= self.window_start) & (dates < self.window_stop)

    def _run_parallel(self, stage, work, items):
        """Run work(key, value) per item on the pool; a failing item is skipped."""
        done = {}
        with ThreadPoolExecutor(max_workers=self.max_workers) as pool:
            futures = {pool.submit(work, key, value): key for key, value in items}
            for future in as_completed(futures):
                key = futures[future]
                try:
                    result = future.result()
                except Exception as exc:
                    self._skip(stage, key, exc)
                    continue
                with self._lock:
                    done[key] = result
        return done

    def _skip(self, stage, ticker, exc):
        with self._lock:
            self.skipped[ticker] = "%s: %s" % (stage, exc)

    # Stage 1: ingest lookback history plus the output window for every ticker.
    def fetch_grouped_data(self):
        fetched = self._run_parallel("ingest", self._load, [(t, t) for t in self.tickers])
        frames = []
        for ticker in sorted(fetched):
            frame = fetched[ticker]
            if frame is None or len(frame) == 0:
                continue
            frames.append(self._normalize(ticker, frame))
        if not frames:
            return pd.DataFrame(columns=["Ticker", "Date"])
        return pd.concat(frames, ignore_index=True)

    def _load(self, ticker, _):
        start = self.history_start.strftime("%Y-%m-%d")
        end = self.window_end.strftime("%Y-%m-%d")
        if self.loader is not None:
            return self.loader(ticker, start, end)
{{- if .IngestCall}}
        return {{.IngestCall}}
{{- else}}
        raise ValueError("no data loader configured for %s" % ticker)
{{- end}}

    def _normalize(self, ticker, frame):
        frame = pd.DataFrame(frame).copy()
        if "Date" not in frame.columns:
            renamed = False
            for name in ("date", "Datetime", "datetime", "timestamp"):
                if name in frame.columns:
                    frame = frame.rename(columns={name: "Date"})
                    renamed = True
                    break
            if not renamed:
                frame = frame.rename_axis("Date").reset_index()
        frame["Date"] = pd.to_datetime(frame["Date"])
        frame["Ticker"] = ticker
        return frame

    # Stage 2: cheap filters on in-window rows; historical rows always pass through.
    def apply_smart_filters(self, data):
        if data is None or data.empty:
            return data
        in_window = self._in_window(data["Date"])
        historical = data[~in_window]
        current = data[in_window]
        keep = pd.Series(True, index=current.index)
{{- if .MinPrice}}
        if self.PRICE_COLUMN in current.columns:
            keep &= current[self.PRICE_COLUMN] >= self.params[{{pyrepr .MinPrice}}]
{{- end}}
{{- if .MinVolume}}
        if self.VOLUME_COLUMN in current.columns:
            keep &= current[self.VOLUME_COLUMN] >= self.params[{{pyrepr .MinVolume}}]
{{- end}}
        filtered = current[keep]
        combined = pd.concat([historical, filtered])
        return combined.sort_values(["Ticker", "Date"]).reset_index(drop=True)

    # Stage 3: per-ticker features over the full history.
    def compute_features(self, data):
        if data is None or data.empty:
            return {}
        partitions = [
            (ticker, part.set_index("Date").sort_index())
            for ticker, part in data.groupby("Ticker")
        ]
        return self._run_parallel("compute", self._compute_ticker, partitions)

    def _compute_ticker(self, ticker, frame):
        frame = frame.copy()
        params = self.params
{{- range .ComputeCalls}}
        out = {{.}}
        if out is not None:
            frame = out
{{- end}}
{{- if .InlineFeatures}}
{{indent 8 .InlineFeatures}}
{{- end}}
        return frame

    # Stage 4: detection on each ticker partition.
    def detect_patterns(self, features):
        found = self._run_parallel("detect", self._detect_ticker, sorted(features.items()))
        rows = []
        for ticker in sorted(found):
            rows.extend(found[ticker])
        return rows

    def _detect_ticker(self, ticker, frame):
        params = self.params
        results = []
        # >>> detection fragment
{{- if .Preamble}}
{{indent 8 .Preamble}}
{{- end}}
{{- if eq .Mode "row"}}
{{- if eq .RowStyle "itertuples"}}
        for row in frame.itertuples():
            date = row.Index
{{- else}}
        for date, row in frame.iterrows():
{{- end}}
{{indent 12 .Fragment}}
{{- else if eq .Mode "entity"}}
        for ticker in [ticker]:
{{indent 12 .Fragment}}
{{- else}}
{{indent 8 .Fragment}}
{{- end}}
        # <<< detection fragment
        return results

    # Stage 5: output-window rows only, one row per ticker and date.
    def format_results(self, rows):
        columns = ["Ticker", "Date"{{if .Multi}}, "Scanner_Label"{{end}}]
        if not rows:
            return pd.DataFrame(columns=columns)
        out = pd.DataFrame(rows)
        for lower, canonical in (("ticker", "Ticker"), ("symbol", "Ticker"), ("date", "Date")):
            if lower in out.columns and canonical not in out.columns:
                out = out.rename(columns={lower: canonical})
        if "Date" in out.columns:
            out["Date"] = pd.to_datetime(out["Date"])
            out = out[self._in_window(out["Date"])]
{{- if .Multi}}
        if out.empty:
            return pd.DataFrame(columns=columns)
        out = (
            out.groupby(["Ticker", "Date"])["Scanner_Label"]
            .agg(lambda labels: ", ".join(sorted(set(labels))))
            .reset_index()
        )
{{- end}}
        keys = [c for c in ("Date", "Ticker") if c in out.columns]
        if keys:
            out = out.sort_values(keys)
        return out.reset_index(drop=True)

    def run_scan(self):
        data = self.fetch_grouped_data()
        data = self.apply_smart_filters(data)
        features = self.compute_features(data)
        rows = self.detect_patterns(features)
        return self.format_results(rows)
{{- if .Multi}}

    @staticmethod
    def _flag(value):
        try:
            return bool(value) and not pd.isna(value)
        except (TypeError, ValueError):
            return False
{{- end}}
{{- range .Stubs}}

    def {{.}}(self, data=None):
        return data
{{- end}}


if __name__ == "__main__":
    import sys

    if len(sys.argv) < 4:
        sys.exit("usage: %s START END TICKER [TICKER ...]" % sys.argv[0])
    scanner = {{.ClassName}}(sys.argv[3:], sys.argv[1], sys.argv[2])
    print(scanner.run_scan().to_string(index=False))
`

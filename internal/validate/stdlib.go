package validate

// stdlib lists standard library top-level modules generated scanners may import.
var stdlib = map[string]bool{
	"__future__": true, "abc": true, "argparse": true, "array": true, "ast": true,
	"asyncio": true, "base64": true, "bisect": true, "calendar": true, "collections": true,
	"concurrent": true, "contextlib": true, "copy": true, "csv": true, "dataclasses": true,
	"datetime": true, "decimal": true, "enum": true, "functools": true, "glob": true,
	"gzip": true, "hashlib": true, "heapq": true, "http": true, "io": true,
	"itertools": true, "json": true, "logging": true, "math": true, "multiprocessing": true,
	"operator": true, "os": true, "pathlib": true, "pickle": true, "queue": true,
	"random": true, "re": true, "shutil": true, "signal": true, "sqlite3": true,
	"statistics": true, "string": true, "subprocess": true, "sys": true, "tempfile": true,
	"textwrap": true, "threading": true, "time": true, "traceback": true, "typing": true,
	"urllib": true, "uuid": true, "warnings": true, "zipfile": true, "zoneinfo": true,
}

package server

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/ije/esbuild-internal/js_lexer"
)

// evalScript prints the own keys of the exports of a CommonJS module when they are a plain object.
const evalScript = `let keys = [];
try {
  const v = require(process.argv[1]);
  if (v !== null && typeof v === "object") {
    const proto = Object.getPrototypeOf(v);
    if (proto === Object.prototype || proto === null) {
      keys = Object.keys(v);
    }
  }
} catch (e) {}
process.stdout.write(JSON.stringify(keys));
`

// evalCJSExports requires the module with node to list the exports built at runtime,
// it's the last resort when the cjs lexer can't find any export.
// Any failure yields no exports.
func (wm *WebModules) evalCJSExports(entry string) []string {
	ret, err := wm.cachedScan("eval:"+wm.config.NodeEnv, entry, func(filename string) (*scanResult, error) {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var outBuf, errBuf bytes.Buffer
		cmd := exec.CommandContext(ctx, "node", "-e", evalScript, filename)
		cmd.Dir = filepath.Dir(filename)
		cmd.Env = append(os.Environ(), "NODE_ENV="+wm.config.NodeEnv)
		cmd.Stdout = &outBuf
		cmd.Stderr = &errBuf
		err := cmd.Run()
		if err != nil {
			if errBuf.Len() > 0 {
				log.Debugf("eval exports of %s: %s", filename, errBuf.String())
			}
			return nil, err
		}

		var keys []string
		err = json.Unmarshal(outBuf.Bytes(), &keys)
		if err != nil {
			return nil, err
		}
		exports := []string{}
		for _, key := range keys {
			if key != "__esModule" && (key == "default" || js_lexer.IsIdentifier(key)) {
				exports = append(exports, key)
			}
		}
		log.Debugf("eval exports of %s in %s", filename, time.Since(start))
		return &scanResult{Exports: exports}, nil
	})
	if err != nil {
		log.Debugf("eval exports of %s: %v", entry, err)
		return nil
	}
	return ret.Exports
}

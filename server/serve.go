package server

import (
	"os"

	logx "github.com/ije/gox/log"
	"github.com/ije/gox/utils"
	"github.com/ije/rex"
)

// Serve serves the resolve api of the web modules until an exit signal is received.
func Serve(wm *WebModules, accessLogger *logx.Logger) {
	rex.Query("*", routes(wm))
	rex.Use(
		rex.ErrorLogger(log),
		rex.AccessLogger(accessLogger),
		rex.Header("Server", "web-modules"),
		rex.Cors(rex.CORS{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"HEAD", "GET"},
			AllowedHeaders: []string{"Origin", "Content-Type", "Accept-Encoding"},
			MaxAge:         3600,
		}),
	)

	rex.Serve(rex.ServerConfig{
		Port: wm.config.Port,
	})
	log.Infof("web modules %s serving %s on port %d", VERSION, wm.config.RootDir, wm.config.Port)

	// wait exit signal
	utils.WaitExitSignal(func(s os.Signal) bool {
		wm.Close()
		return true
	})
}

package app

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gath-stack/chainapp/internal/logs"
	"github.com/gath-stack/chainapp/internal/web"
)

const cpuTaskIterations = 1000

func (app *Application) logger(r *http.Request) *zap.Logger {
	return logs.WithTrace(r.Context(), app.log)
}

func (app *Application) healthHandler(w http.ResponseWriter, r *http.Request) error {
	return web.JSON(w, http.StatusOK, map[string]string{"message": "I'm healthy"})
}

func (app *Application) indexHandler(w http.ResponseWriter, r *http.Request) error {
	app.logger(r).Info("Hello World")
	return web.JSON(w, http.StatusOK, map[string]string{"Hello": "World"})
}

func (app *Application) ioTaskHandler(w http.ResponseWriter, r *http.Request) error {
	app.sleep(time.Second)
	app.logger(r).Error("io task")
	return web.Text(w, http.StatusOK, "IO bound task finish!")
}

func (app *Application) cpuTaskHandler(w http.ResponseWriter, r *http.Request) error {
	var sum int
	for i := 0; i < cpuTaskIterations; i++ {
		sum += i * i * i
	}
	app.logger(r).Info("cpu task", zap.Int("result", sum))
	return web.Text(w, http.StatusOK, "CPU bound task finish!")
}

func (app *Application) randomStatusHandler(w http.ResponseWriter, r *http.Request) error {
	app.logger(r).Error("random status")
	return web.JSON(w, http.StatusOK, map[string]string{"path": "/random_status"})
}

// randomSleepHandler sleeps a whole number of seconds between 0 and 5.
func (app *Application) randomSleepHandler(w http.ResponseWriter, r *http.Request) error {
	d := time.Duration(app.randomInt(6)) * time.Second
	app.sleep(d)
	app.logger(r).Info("random sleep", zap.Duration("slept", d))
	return web.JSON(w, http.StatusOK, map[string]string{"path": "/random_sleep"})
}

func (app *Application) errorTestHandler(w http.ResponseWriter, r *http.Request) error {
	app.logger(r).Error("got error!!!!")
	return &ValueError{Msg: "value error"}
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) error {
	return web.JSON(w, http.StatusNotFound, map[string]string{"error": http.StatusText(http.StatusNotFound)})
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) error {
	return web.JSON(w, http.StatusMethodNotAllowed, map[string]string{"error": http.StatusText(http.StatusMethodNotAllowed)})
}

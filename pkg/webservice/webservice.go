/*
 Licensed to the Apache Software Foundation (ASF) under one
 or more contributor license agreements.  See the NOTICE file
 distributed with this work for additional information
 regarding copyright ownership.  The ASF licenses this file
 to you under the Apache License, Version 2.0 (the
 "License"); you may not use this file except in compliance
 with the License.  You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package webservice

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/kao-sched/kao-core/pkg/locking"
	"github.com/kao-sched/kao-core/pkg/log"
	"github.com/kao-sched/kao-core/pkg/scheduler"
	"github.com/kao-sched/kao-core/pkg/store"
)

const DefaultAddress = ":9080"

var (
	lock             locking.RWMutex
	schedulerContext *scheduler.Scheduler
	stateStore       *store.Store
)

type WebService struct {
	httpServer *http.Server
	address    string
}

func newRouter() *httprouter.Router {
	router := httprouter.New()
	for _, webRoute := range webRoutes {
		handler := gzipHandler(loggingHandler(webRoute.HandlerFunc, webRoute.Name))
		router.Handler(webRoute.Method, webRoute.Pattern, handler)
	}
	return router
}

func loggingHandler(inner http.Handler, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		inner.ServeHTTP(w, r)
		log.Log(log.REST).Debug("web-app request",
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.String("name", name),
			zap.Duration("duration", time.Since(start)))
	}
}

type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w gzipResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func gzipHandler(inner http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			inner.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
		// the response is compressed once, here
		r.Header.Del("Accept-Encoding")
		gz := gzip.NewWriter(w)
		defer func() {
			if err := gz.Close(); err != nil {
				log.Log(log.REST).Error("closing gzip writer failed", zap.Error(err))
			}
		}()
		inner.ServeHTTP(gzipResponseWriter{Writer: gz, ResponseWriter: w}, r)
	}
}

func (m *WebService) StartWebApp() {
	router := newRouter()
	m.httpServer = &http.Server{Addr: m.address, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	log.Log(log.REST).Info("web-app started", zap.String("address", m.address))
	go func() {
		httpError := m.httpServer.ListenAndServe()
		if httpError != nil && !errors.Is(httpError, http.ErrServerClosed) {
			log.Log(log.REST).Error("HTTP serving error",
				zap.Error(httpError))
		}
	}()
}

// NewWebApp creates the web service serving the state of a scheduler and its store.
// An empty address listens on DefaultAddress.
func NewWebApp(sched *scheduler.Scheduler, st *store.Store, address string) *WebService {
	if address == "" {
		address = DefaultAddress
	}
	lock.Lock()
	defer lock.Unlock()
	schedulerContext = sched
	stateStore = st
	return &WebService{address: address}
}

func (m *WebService) StopWebApp() error {
	if m.httpServer != nil {
		// graceful shutdown in 5 seconds
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.httpServer.Shutdown(ctx)
	}

	return nil
}

func getContext() (*scheduler.Scheduler, *store.Store) {
	lock.RLock()
	defer lock.RUnlock()
	return schedulerContext, stateStore
}

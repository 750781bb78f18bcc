// Package httpapi exposes the board over HTTP: device descriptors,
// attributes, debug registers, captures as FITS, DAC playback and
// attribute profiles.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"iioboard/host/capture"
	"iioboard/host/log"
	"iioboard/host/mcu"
	"iioboard/host/store"
	"iioboard/iio"
)

// Board is the part of mcu.MCU the API serves
type Board interface {
	store.Board
	Devices() []mcu.DeviceInfo
	ReadReg(ctx context.Context, dev string, addr uint32) (uint32, error)
	WriteReg(ctx context.Context, dev string, addr, value uint32) error
	Capture(ctx context.Context, dev string, req mcu.CaptureRequest) (*mcu.CaptureResult, error)
	Layout(ctx context.Context, dev string, mask iio.ScanMask) (capture.Layout, error)
	Output(ctx context.Context, dev string, req mcu.OutputRequest) (*mcu.OutputResult, error)
}

// ShortHeader carries the error that cut a capture short when the body
// still holds the whole scans read before it
const ShortHeader = "X-Capture-Short"

// Server holds the board and the optional profile store
type Server struct {
	Board Board
	Store *store.Store
	// CaptureTimeout bounds one capture request
	CaptureTimeout time.Duration
}

// Router builds the chi route tree
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/devices", s.devices)
	r.Route("/devices/{dev}", func(r chi.Router) {
		r.Get("/", s.device)
		r.Get("/attrs/{attr}", s.readAttr)
		r.Put("/attrs/{attr}", s.writeAttr)
		r.Get("/channels/{ch}/attrs/{attr}", s.readAttr)
		r.Put("/channels/{ch}/attrs/{attr}", s.writeAttr)
		r.Get("/regs/{addr}", s.readReg)
		r.Put("/regs/{addr}", s.writeReg)
		r.Post("/capture", s.capture)
		r.Post("/output", s.output)
		r.Get("/profiles", s.profiles)
		r.Post("/profiles/{name}", s.saveProfile)
		r.Post("/profiles/{name}/apply", s.applyProfile)
	})
	return r
}

// StatusFor maps an error to its HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, iio.ErrInvalid), errors.Is(err, capture.ErrEmptyLayout):
		return http.StatusBadRequest
	case errors.Is(err, mcu.ErrUnknownDevice), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, iio.ErrNotSupported), errors.Is(err, mcu.ErrNoBuffer):
		return http.StatusNotImplemented
	case errors.Is(err, iio.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, iio.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, iio.ErrNoMem):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func fail(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		log.Error("%v", err)
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warning("encode response: %v", err)
	}
}

func (s *Server) devices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Board.Devices())
}

func (s *Server) device(w http.ResponseWriter, r *http.Request) {
	d, err := s.Board.Device(chi.URLParam(r, "dev"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, d)
}

// channel is the {ch} parameter, or GlobalChannel on device routes
func channel(r *http.Request) (int, error) {
	s := chi.URLParam(r, "ch")
	if s == "" {
		return iio.GlobalChannel, nil
	}
	ch, err := strconv.Atoi(s)
	if err != nil || ch < 0 {
		return 0, iio.ErrInvalid
	}
	return ch, nil
}

type attrValue struct {
	Value string `json:"value"`
}

func (s *Server) readAttr(w http.ResponseWriter, r *http.Request) {
	ch, err := channel(r)
	if err != nil {
		fail(w, err)
		return
	}
	v, err := s.Board.ReadAttr(r.Context(), chi.URLParam(r, "dev"), ch, chi.URLParam(r, "attr"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, attrValue{Value: v})
}

func (s *Server) writeAttr(w http.ResponseWriter, r *http.Request) {
	ch, err := channel(r)
	if err != nil {
		fail(w, err)
		return
	}
	var in attrValue
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Board.WriteAttr(r.Context(), chi.URLParam(r, "dev"), ch, chi.URLParam(r, "attr"), in.Value); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type regValue struct {
	Value uint32 `json:"value"`
}

func regAddr(r *http.Request) (uint32, error) {
	addr, err := strconv.ParseUint(chi.URLParam(r, "addr"), 0, 32)
	if err != nil {
		return 0, iio.ErrInvalid
	}
	return uint32(addr), nil
}

func (s *Server) readReg(w http.ResponseWriter, r *http.Request) {
	addr, err := regAddr(r)
	if err != nil {
		fail(w, err)
		return
	}
	v, err := s.Board.ReadReg(r.Context(), chi.URLParam(r, "dev"), addr)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, regValue{Value: v})
}

func (s *Server) writeReg(w http.ResponseWriter, r *http.Request) {
	addr, err := regAddr(r)
	if err != nil {
		fail(w, err)
		return
	}
	var in regValue
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Board.WriteReg(r.Context(), chi.URLParam(r, "dev"), addr, in.Value); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// captureRequest is the POST body of a capture. Mask takes the same forms
// as the CLI: "0x5" or "voltage0,voltage2".
type captureRequest struct {
	Mode  string `json:"mode"`
	Mask  string `json:"mask"`
	Scans int    `json:"scans"`
}

func (s *Server) capture(w http.ResponseWriter, r *http.Request) {
	dev := chi.URLParam(r, "dev")
	d, err := s.Board.Device(dev)
	if err != nil {
		fail(w, err)
		return
	}
	var in captureRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req := mcu.CaptureRequest{Mode: mcu.ModeBurst, Scans: in.Scans}
	switch in.Mode {
	case "", "burst":
	case "continuous":
		req.Mode = mcu.ModeContinuous
	default:
		http.Error(w, "mode must be burst or continuous", http.StatusBadRequest)
		return
	}
	if req.Mask, err = d.ParseMask(in.Mask); err != nil {
		fail(w, err)
		return
	}

	ctx := r.Context()
	if s.CaptureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.CaptureTimeout)
		defer cancel()
	}
	res, err := s.Board.Capture(ctx, dev, req)
	short := res.Short(err)
	if err != nil && !short {
		fail(w, err)
		return
	}
	codes, err := res.Codes()
	if err != nil {
		fail(w, err)
		return
	}
	meta := res.Meta(req.Mode)
	if s.Store != nil {
		if _, err := s.Store.LogCapture(store.CaptureRecord{
			Device:  dev,
			Mode:    meta.Mode,
			Mask:    uint32(req.Mask),
			Scans:   meta.Scans,
			Overrun: meta.Overrun,
		}); err != nil {
			log.Warning("capture log: %v", err)
		}
	}
	if short {
		log.Warning("%s: %v, returning %d whole scans", dev, err, meta.Scans)
		w.Header().Set(ShortHeader, err.Error())
	}
	w.Header().Set("Content-Type", "application/fits")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+dev+".fits\"")
	if err := capture.WriteFITS(w, res.Layout, meta, codes); err != nil {
		log.Error("write FITS: %v", err)
	}
}

// outputRequest is the POST body of a playback: one column of codes per
// channel in mask, lowest channel first
type outputRequest struct {
	Mode  string    `json:"mode"`
	Mask  string    `json:"mask"`
	Codes [][]int32 `json:"codes"`
}

type outputResponse struct {
	Scans    int  `json:"scans"`
	Underrun bool `json:"underrun"`
}

func (s *Server) output(w http.ResponseWriter, r *http.Request) {
	dev := chi.URLParam(r, "dev")
	d, err := s.Board.Device(dev)
	if err != nil {
		fail(w, err)
		return
	}
	var in outputRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req := mcu.OutputRequest{Mode: mcu.ModeBurst}
	switch in.Mode {
	case "", "burst":
	case "continuous":
		req.Mode = mcu.ModeContinuous
	default:
		http.Error(w, "mode must be burst or continuous", http.StatusBadRequest)
		return
	}
	if req.Mask, err = d.ParseMask(in.Mask); err != nil {
		fail(w, err)
		return
	}

	ctx := r.Context()
	if s.CaptureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.CaptureTimeout)
		defer cancel()
	}
	l, err := s.Board.Layout(ctx, dev, req.Mask)
	if err != nil {
		fail(w, err)
		return
	}
	if req.Data, err = capture.Encode(l, in.Codes); err != nil {
		if errors.Is(err, capture.ErrPartialScan) {
			err = fmt.Errorf("%v: %w", err, iio.ErrInvalid)
		}
		fail(w, err)
		return
	}
	res, err := s.Board.Output(ctx, dev, req)
	if err != nil {
		fail(w, err)
		return
	}
	if res.Underrun {
		log.Warning("%s: output ran dry", dev)
	}
	writeJSON(w, outputResponse{Scans: res.Scans, Underrun: res.Underrun})
}

func (s *Server) profileStore(w http.ResponseWriter) bool {
	if s.Store == nil {
		http.Error(w, "no profile store configured", http.StatusNotImplemented)
		return false
	}
	return true
}

func (s *Server) profiles(w http.ResponseWriter, r *http.Request) {
	if !s.profileStore(w) {
		return
	}
	names, err := s.Store.Profiles(chi.URLParam(r, "dev"))
	if err != nil {
		fail(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, names)
}

func (s *Server) saveProfile(w http.ResponseWriter, r *http.Request) {
	if !s.profileStore(w) {
		return
	}
	p, err := store.Snapshot(r.Context(), s.Board, chi.URLParam(r, "dev"), chi.URLParam(r, "name"))
	if err != nil {
		fail(w, err)
		return
	}
	if err := s.Store.SaveProfile(p); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, p)
}

func (s *Server) applyProfile(w http.ResponseWriter, r *http.Request) {
	if !s.profileStore(w) {
		return
	}
	p, err := s.Store.Profile(chi.URLParam(r, "dev"), chi.URLParam(r, "name"))
	if err != nil {
		fail(w, err)
		return
	}
	if err := store.Apply(r.Context(), s.Board, p); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

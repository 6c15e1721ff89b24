package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"

	"github.com/thc1006/nephoran-sol003-driver/internal/csar"
	"github.com/thc1006/nephoran-sol003-driver/internal/sol003"
	"github.com/thc1006/nephoran-sol003-driver/pkg/models"
)

const (
	contentTypeZip   = "application/zip"
	contentTypeText  = "text/plain"
	contentTypeBytes = "application/octet-stream"
)

// LogNotifications returns a NotificationHandler that only logs.
func LogNotifications(log logr.Logger) NotificationHandler {
	log = log.WithName("notifications")
	return func(_ context.Context, n sol003.Notification) error {
		h := n.Header()
		log.Info("Received lifecycle notification", "notificationType", h.NotificationType,
			"subscriptionId", h.SubscriptionID, "vnfInstanceId", h.VnfInstanceID)
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	limit := s.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultConfig().MaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		writeProblem(w, http.StatusRequestEntityTooLarge, err.Error())
		return nil, false
	}
	return body, true
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := s.validator.validate(body); err != nil {
		writeProblem(w, http.StatusBadRequest, err.Error())
		return
	}
	var req models.ExecutionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, err.Error())
		return
	}

	accepted, err := s.deps.Executor.Execute(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

// handleNotificationTest answers the VNFM's callback URI probe.
func (s *Server) handleNotificationTest(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	n, err := sol003.DecodeNotification(body)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Notifications(r.Context(), n); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequestGrant(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req sol003.GrantRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, err.Error())
		return
	}

	grant, grantID, err := s.deps.Grants.RequestGrant(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/grant/v1/grants/"+url.PathEscape(grantID))
	if grant == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

func (s *Server) handleGetGrant(w http.ResponseWriter, r *http.Request) {
	grant, err := s.deps.Grants.GetGrant(r.Context(), mux.Vars(r)["grantId"])
	if err != nil {
		writeError(w, err)
		return
	}
	if grant == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	infos, err := s.deps.Packages.QueryAllVnfPkgInfos(r.Context(), r.URL.Query().Get("group"))
	if err != nil {
		writeError(w, err)
		return
	}
	for i := range infos {
		infos[i].Links = packageLinks(infos[i].ID)
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Packages.GetVnfPkgInfo(r.Context(), mux.Vars(r)["vnfPkgId"])
	if err != nil {
		writeError(w, err)
		return
	}
	out := *info
	out.Links = packageLinks(out.ID)
	writeJSON(w, http.StatusOK, out)
}

// handleGetVnfd returns the VNFD as a single YAML file, or as a zip when
// only application/zip is acceptable.
func (s *Server) handleGetVnfd(w http.ResponseWriter, r *http.Request) {
	content, ok := s.packageContent(w, r)
	if !ok {
		return
	}
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, contentTypeZip) && !strings.Contains(accept, contentTypeText) {
		data, err := csar.ExtractVnfdAsZip(content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeBytes(w, contentTypeZip, data)
		return
	}
	data, err := csar.ExtractVnfdAsYaml(content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeBytes(w, contentTypeText, data)
}

func (s *Server) handleGetPackageContent(w http.ResponseWriter, r *http.Request) {
	content, ok := s.packageContent(w, r)
	if !ok {
		return
	}
	writeBytes(w, contentTypeZip, content)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	content, ok := s.packageContent(w, r)
	if !ok {
		return
	}
	data, isZip, err := csar.ExtractVnfPackageArtifact(content, mux.Vars(r)["artifactPath"])
	if err != nil {
		writeError(w, err)
		return
	}
	if isZip {
		writeBytes(w, contentTypeZip, data)
		return
	}
	writeBytes(w, contentTypeBytes, data)
}

func (s *Server) packageContent(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	content, err := s.deps.Packages.GetVnfPackage(r.Context(), mux.Vars(r)["vnfPkgId"])
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return content, true
}

func packageLinks(id string) map[string]sol003.Link {
	base := "/vnfpkgm/v2/vnf_packages/" + url.PathEscape(id)
	return map[string]sol003.Link{
		"self":           {Href: base},
		"vnfd":           {Href: base + "/vnfd"},
		"packageContent": {Href: base + "/package_content"},
	}
}

func writeBytes(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

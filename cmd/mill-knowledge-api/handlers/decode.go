package handlers

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/codedict"
	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/yarncode"
)

// DecodeHandler explains yarn identifiers and dictionary codes.
type DecodeHandler struct {
	dict   *codedict.Dictionary
	parser *yarncode.Parser
}

// NewDecodeHandler creates a new decode handler.
func NewDecodeHandler(dict *codedict.Dictionary) *DecodeHandler {
	return &DecodeHandler{
		dict:   dict,
		parser: yarncode.NewParser(dict),
	}
}

// YarnDTO is the decoded form of a yarn identifier.
type YarnDTO struct {
	Code           string `json:"code"`
	Type           string `json:"type"`
	Denier         string `json:"denier"`
	Count          string `json:"count"`
	Filament       string `json:"filament"`
	Composition    string `json:"composition"`
	Twist          string `json:"twist"`
	TwistDirection string `json:"twistDirection"`
	Ply            string `json:"ply"`
}

// ResolutionDTO is the result of a dictionary lookup.
type ResolutionDTO struct {
	Domain  string `json:"domain"`
	Code    string `json:"code"`
	Label   string `json:"label"`
	Matched bool   `json:"matched"`
	Rule    int    `json:"rule"`
}

// Yarn handles GET /decode/yarn/{code}.
func (h *DecodeHandler) Yarn(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	a := h.parser.Decode(code)
	if !a.Valid {
		writeError(w, http.StatusUnprocessableEntity, "invalid yarn identifier",
			"expected a 19 character code")
		return
	}
	writeJSON(w, http.StatusOK, YarnDTO{
		Code:           code,
		Type:           a.Type,
		Denier:         a.Denier,
		Count:          a.Count,
		Filament:       a.Filament,
		Composition:    a.Composition,
		Twist:          a.Twist,
		TwistDirection: a.TwistDirection,
		Ply:            a.Ply,
	})
}

// Resolve handles GET /decode/{domain}/{code}.
func (h *DecodeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	domain := codedict.Domain(chi.URLParam(r, "domain"))
	code := chi.URLParam(r, "code")

	if _, ok := h.dict.Table(domain); !ok {
		writeError(w, http.StatusNotFound, "unknown domain", string(domain))
		return
	}

	res := h.dict.Lookup(code, domain)
	writeJSON(w, http.StatusOK, ResolutionDTO{
		Domain:  string(domain),
		Code:    code,
		Label:   res.Label,
		Matched: res.Matched,
		Rule:    res.RuleIndex,
	})
}

// Domains handles GET /decode.
func (h *DecodeHandler) Domains(w http.ResponseWriter, r *http.Request) {
	domains := make([]string, 0)
	for _, d := range h.dict.Domains() {
		domains = append(domains, string(d))
	}
	sort.Strings(domains)
	writeJSON(w, http.StatusOK, map[string]interface{}{"domains": domains})
}

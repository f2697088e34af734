package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"webpay-gateway-api/models"
	"webpay-gateway-api/utils"
)

// forwardedKeys are the only inputs copied onto the redirect, in this order.
var forwardedKeys = []string{
	models.WebpayTokenName,
	models.FieldTbkToken,
	models.FieldTbkIdSession,
	models.FieldTbkOrdenCompra,
}

// FailureRedirect turns the gateway's POST callback into a GET on
// destination, carrying only the Webpay keys. A status of 0 means 303.
func FailureRedirect(destination string, status int) http.HandlerFunc {
	if status == 0 {
		status = http.StatusSeeOther
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			utils.SendErrorResponse(w, http.StatusBadRequest, "Invalid form data")
			return
		}

		pairs := make([]string, 0, len(forwardedKeys))
		for _, key := range forwardedKeys {
			values, ok := r.Form[key]
			if !ok {
				continue
			}
			value := ""
			if len(values) > 0 {
				value = values[0]
			}
			pairs = append(pairs, url.QueryEscape(key)+"="+url.QueryEscape(value))
		}

		if len(pairs) == 0 {
			utils.SendErrorResponse(w, http.StatusNotFound, "Not Found")
			return
		}

		separator := "?"
		if strings.Contains(destination, "?") {
			separator = "&"
		}

		http.Redirect(w, r, destination+separator+strings.Join(pairs, "&"), status)
	}
}

// RegisterFailureRedirect adds a POST route at path forwarding to
// destination, or to a GET of the same path when destination is empty. The
// route needs no session or CSRF token since the gateway posts to it.
func RegisterFailureRedirect(router *mux.Router, path, destination string, status int) *mux.Route {
	if destination == "" {
		destination = path
	}
	return router.HandleFunc(path, FailureRedirect(destination, status)).Methods(http.MethodPost)
}

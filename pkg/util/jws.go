package util

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// JWSToText renders a compact JWS with decoded header and payload, for logs.
func JWSToText(jwsData string) string {
	parts := strings.Split(jwsData, ".")
	if len(parts) != 3 {
		return jwsData
	}

	sb := strings.Builder{}
	sb.WriteString("base64url(")
	sb.WriteString(jwsPartToText(parts[0]))
	sb.WriteString(").base64url(")
	sb.WriteString(jwsPartToText(parts[1]))
	sb.WriteString(").signature(")
	if len(parts[2]) > 10 {
		sb.WriteString(parts[2][0:10])
	}
	sb.WriteString("...)\n")
	return sb.String()
}

func jwsPartToText(s string) string {
	dataBytes, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return err.Error()
	}
	dataMap := make(map[string]interface{})
	err = json.Unmarshal(dataBytes, &dataMap)
	if err != nil {
		return string(dataBytes)
	}

	jsonBytes, err := json.MarshalIndent(dataMap, "  ", "  ")
	if err != nil {
		return err.Error()
	}
	return string(jsonBytes)
}

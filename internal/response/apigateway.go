package response

import (
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
)

// fallbackBody is sent when a response body cannot be encoded.
const fallbackBody = `{"ok":false,"error":"Internal error"}`

// ProxyResponse encodes r as an API Gateway proxy response.
func ProxyResponse(r Response) events.APIGatewayProxyResponse {
	headers := map[string]string{"Content-Type": "application/json"}
	body, err := json.Marshal(r.Body)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    headers,
			Body:       fallbackBody,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       string(body),
	}
}

package openapi

import (
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

type RouteBuilder struct {
	doc       *Document
	method    string
	path      string
	operation *openapi3.Operation
}

func (rb *RouteBuilder) Summary(summary string) *RouteBuilder {
	rb.operation.Summary = summary
	return rb
}

func (rb *RouteBuilder) Description(description string) *RouteBuilder {
	rb.operation.Description = description
	return rb
}

func (rb *RouteBuilder) OperationID(id string) *RouteBuilder {
	rb.operation.OperationID = id
	return rb
}

func (rb *RouteBuilder) Tags(tags ...string) *RouteBuilder {
	rb.operation.Tags = append(rb.operation.Tags, tags...)
	return rb
}

func (rb *RouteBuilder) param(name, in string) *openapi3.Parameter {
	for _, p := range rb.operation.Parameters {
		if p.Value != nil && p.Value.Name == name && p.Value.In == in {
			return p.Value
		}
	}

	param := &openapi3.Parameter{
		Name:   name,
		In:     in,
		Schema: openapi3.NewStringSchema().NewRef(),
	}
	rb.operation.Parameters = append(rb.operation.Parameters, &openapi3.ParameterRef{Value: param})
	return param
}

func (rb *RouteBuilder) PathParam(name, description string) *RouteBuilder {
	param := rb.param(name, openapi3.ParameterInPath)
	param.Description = description
	param.Required = true
	return rb
}

func (rb *RouteBuilder) QueryParam(name, description string, required bool) *RouteBuilder {
	param := rb.param(name, openapi3.ParameterInQuery)
	param.Description = description
	param.Required = required
	return rb
}

// Body accepts example as JSON and as an urlencoded form.
func (rb *RouteBuilder) Body(example any, description string, required bool) *RouteBuilder {
	schema := SchemaOf(example)
	rb.operation.RequestBody = &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    required,
			Content: openapi3.Content{
				"application/json":                  &openapi3.MediaType{Schema: schema},
				"application/x-www-form-urlencoded": &openapi3.MediaType{Schema: schema},
			},
		},
	}
	return rb
}

func (rb *RouteBuilder) response(statusCode int, contentType string, schema *openapi3.SchemaRef, description string) *RouteBuilder {
	resp := &openapi3.Response{Description: &description}
	if contentType != "" {
		resp.Content = openapi3.Content{contentType: &openapi3.MediaType{Schema: schema}}
	}
	rb.operation.Responses.Set(strconv.Itoa(statusCode), &openapi3.ResponseRef{Value: resp})
	return rb
}

func (rb *RouteBuilder) Response(statusCode int, example any, description string) *RouteBuilder {
	if example == nil {
		return rb.response(statusCode, "", nil, description)
	}
	return rb.response(statusCode, "application/json", SchemaOf(example), description)
}

func (rb *RouteBuilder) HTMLResponse(statusCode int, description string) *RouteBuilder {
	return rb.response(statusCode, "text/html", openapi3.NewStringSchema().NewRef(), description)
}

func (rb *RouteBuilder) RedirectResponse(statusCode int, description string) *RouteBuilder {
	rb.response(statusCode, "", nil, description)
	rb.operation.Responses.Value(strconv.Itoa(statusCode)).Value.Headers = openapi3.Headers{
		"Location": &openapi3.HeaderRef{
			Value: &openapi3.Header{
				Parameter: openapi3.Parameter{Schema: openapi3.NewStringSchema().NewRef()},
			},
		},
	}
	return rb
}

func (rb *RouteBuilder) Security(schemes ...string) *RouteBuilder {
	requirements := openapi3.NewSecurityRequirements()
	for _, scheme := range schemes {
		requirements.With(openapi3.NewSecurityRequirement().Authenticate(scheme))
	}
	rb.operation.Security = requirements
	return rb
}

func (rb *RouteBuilder) Build() {
	rb.doc.addOperation(rb.method, rb.path, rb.operation)
}

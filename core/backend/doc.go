/*
Package backend implements the dynamic API backend

A backend manages a Postgres database and generates RESTful CRUD APIs
from JSON schemas at runtime, without code generation and without
restarts.

Management API

APIs are declared through the management routes:

	POST   /manage/apis             declare a new API
	GET    /manage/apis             list all declared APIs
	GET    /manage/apis/{name}      get one API with its endpoints
	DELETE /manage/apis/{name}      undeclare an API
	POST   /manage/validate-schema  validate a schema without declaring anything
	GET    /manage/statistics       storage statistics for all APIs

A declaration consists of a name, a JSON schema and optional options:

  curl http://localhost:8080/manage/apis -d'{
	"name": "Product",
	"schema": {
		"type": "object",
		"properties": {
			"name": {"type": "string", "maxLength": 200},
			"price": {"type": "number"},
			"in_stock": {"type": "boolean", "default": true},
			"tags": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["name", "price"]
	}
  }'

This materializes a table "dynamic_product" and mounts the following
REST routes:

	GET /product
	POST /product
	GET /product/{id}
	PUT /product/{id}
	DELETE /product/{id}
	DELETE /product

The management response describes the new API:

  {
	"success": true,
	"message": "API 'Product' created successfully",
	"data": {
		"name": "Product",
		"prefix": "/product",
		"status": "created",
		"endpoints": [...]
	}
  }

We can now create a product with a simple POST:

  curl http://localhost:8080/product -d'{"name":"Apple","price":1.99}'
  {
	"id": 1,
	"name": "Apple",
	"price": 1.99,
	"in_stock": true,
	"tags": null
  }

Every item gets a generated integer identity "id". The identity comes
first in responses, the remaining properties keep the order of the
schema. Properties with a "default" in the schema - like "in_stock"
above - get that value when the request body does not set them.

Schemas

Schemas are standard JSON schema objects of type "object". Properties
map to typed Postgres columns:

	string                    varchar(maxLength), 255 by default
	string, maxLength > 500   text
	string, format date-time  timestamp
	integer                   integer
	number                    double precision
	boolean                   boolean
	array, object             json

Required properties become NOT NULL columns, a request body without them
is rejected with field errors. Tables of previously declared APIs are
reused as they are, there is no migration of existing columns.

API Options

The declaration can disable individual routes and configure pagination:

  {
	"name": "Event",
	"schema": { ... },
	"options": {
		"pagination": {"enabled": true, "size": 50},
		"routes": {"delete_all": false, "update": false}
	}
  }

All routes default to enabled. A disabled route answers with 404.

Query Parameters and Pagination

The GET request on collections supports pagination:

	?limit=n  sets a page limit of n items
	?page=n   selects page number n

The response carries the following custom headers for pagination:

	"Pagination-Limit"        the page limit
	"Pagination-Total-Count"  the total number of items in the collection
	"Pagination-Page-Count"   the total number of pages in the collection
	"Pagination-Current-Page" the currently selected page

The maximum allowed limit is 100, the default page size is 20. APIs with
pagination disabled return the entire collection and no pagination
headers.

If-None-Match and Etag

GET requests on generated resources are served with Etag and obey the
If-None-Match request. This allows clients to check whether new data is
available without downloading and comparing the entire response. If a
client puts the received Etag of a request into the If-None-Match header
of a subsequent request, then the system will simply respond with a 304
Not Modified in case the resource was not changed. In case the resource
was changed, the request will be answered as usual.

Events

Every successful mutation raises a change event carrying the mutated
object. Events are committed into an outbox table within the mutating
transaction and delivered asynchronously through the Notifier interface
specified at construction time, with at most 4 delivery attempts per
event. With the KafkaBrokers builder option, the backend delivers events
to the Kafka topic "schemaforge.events", keyed by resource. Declaring
and deleting APIs raises events for the resource "manage/apis".

Authorization

With the AdminToken builder option set, the management routes require
the admin role, the generated resource routes remain public. Requests
authenticate with a bearer token in the Authorization header or with a
SchemaForge-JWT cookie. The admin token itself grants the admin role,
any other token is verified as an HS256 JWT signed with the admin token
and contributes its roles claim.

You can easily check the authorization state of any token, by doing a
GET request to

	/authorization

which will return the authorization state for the authenticated
requester.
*/
package backend

package validators

import "go.mongodb.org/mongo-driver/bson"

var DeviceValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"status",
			"first_session_flag",
			"last_active_seconds",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"status": bson.M{
				"bsonType": "string",
				"enum": []string{
					"inactive",
					"active",
					"maintenance",
					"error",
				},
			},

			"assigned_rental_id": nullableID,
			"reserved_for":       nullableID,

			"reserved_until": bson.M{
				"bsonType": []string{"date", "null"},
			},

			"first_session_flag": bson.M{
				"bsonType": "bool",
			},

			"flagged_at": bson.M{
				"bsonType": []string{"date", "null"},
			},

			"last_active_seconds": bson.M{
				"bsonType": []string{"long", "int"},
				"minimum":  0,
			},

			"session_version": bson.M{
				"bsonType": []string{"long", "int"},
			},

			"created_at": bson.M{
				"bsonType": "date",
			},

			"deleted_at": bson.M{
				"bsonType": []string{"date", "null"},
			},
		},
	},
}

var nullableID = bson.M{
	"bsonType":  []string{"string", "null"},
	"minLength": 24,
	"maxLength": 24,
}

var objectIDString = bson.M{
	"bsonType":  "string",
	"minLength": 24,
	"maxLength": 24,
}

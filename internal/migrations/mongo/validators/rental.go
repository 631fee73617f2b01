package validators

import "go.mongodb.org/mongo-driver/bson"

var RentalValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"user_id",
			"status",
			"interval_months",
			"cost",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"user_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 128,
			},

			"status": bson.M{
				"bsonType": "string",
				"enum": []string{
					"pending",
					"active",
					"awaiting-return",
					"completed",
					"cancelled",
				},
			},

			"interval_months": intervalMonths,

			"start_date": bson.M{
				"bsonType": []string{"date", "null"},
			},

			"end_date": bson.M{
				"bsonType": []string{"date", "null"},
			},

			"cost": bson.M{
				"bsonType": []string{"long", "int"},
				"minimum":  0,
			},

			"reserved_until": bson.M{
				"bsonType": []string{"date", "null"},
			},

			"created_at": bson.M{
				"bsonType": "date",
			},

			"updated_at": bson.M{
				"bsonType": "date",
			},

			"deleted_at": bson.M{
				"bsonType": []string{"date", "null"},
			},
		},
	},
}

var intervalMonths = bson.M{
	"bsonType": []string{"int", "long"},
	"enum":     []int{6, 12, 24, 36},
}
